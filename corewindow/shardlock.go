package corewindow

import (
	"hash/fnv"
	"sync"
)

// ShardedLockMap is a fixed array of mutex stripes selected by hashing a
// key, so mutation concurrency scales with the number of distinct keys in
// play without allocating a mutex per key. Stripes never grow after
// construction — grounded on orderbook.py's price_locks/order_locks
// stripe arrays.
type ShardedLockMap struct {
	stripes []sync.Mutex
	mask    uint64
}

// NewShardedLockMap builds a map with numStripes stripes, which must be a
// power of two (validated by Config.Validate for façade callers).
func NewShardedLockMap(numStripes int) *ShardedLockMap {
	return &ShardedLockMap{
		stripes: make([]sync.Mutex, numStripes),
		mask:    uint64(numStripes - 1),
	}
}

func (s *ShardedLockMap) stripeIndex(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64() & s.mask
}

// Lock acquires the stripe for key.
func (s *ShardedLockMap) Lock(key string) {
	s.stripes[s.stripeIndex(key)].Lock()
}

// Unlock releases the stripe for key.
func (s *ShardedLockMap) Unlock(key string) {
	s.stripes[s.stripeIndex(key)].Unlock()
}

// WithLock runs fn with key's stripe held.
func (s *ShardedLockMap) WithLock(key string, fn func()) {
	s.Lock(key)
	defer s.Unlock(key)
	fn()
}

// LockTwo acquires the stripes for keyA and keyB in canonical
// (stripe-index, then key-bytes) order, so two goroutines transferring
// between the same pair of keys in opposite directions can never
// deadlock. If both keys hash to the same stripe it is acquired once.
// Returns an unlock function that releases whatever was actually locked.
func (s *ShardedLockMap) LockTwo(keyA, keyB string) (unlock func()) {
	idxA := s.stripeIndex(keyA)
	idxB := s.stripeIndex(keyB)

	if idxA == idxB {
		s.stripes[idxA].Lock()
		return func() { s.stripes[idxA].Unlock() }
	}

	first, second := idxA, idxB
	if first > second || (first == second && keyA > keyB) {
		first, second = second, first
	}
	s.stripes[first].Lock()
	s.stripes[second].Lock()
	return func() {
		s.stripes[second].Unlock()
		s.stripes[first].Unlock()
	}
}

// NumStripes returns the configured stripe count.
func (s *ShardedLockMap) NumStripes() int { return len(s.stripes) }
