package corewindow

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// Facade combines a RollingCMS, a RollingHLL, a BoundedTopK, a family of
// per-key exact RingBuffers, and the sharded lock infrastructure behind
// the domain operations described in spec: record/retract/move for exact
// per-key counters, an approximate per-key frequency path backed by the
// Count-Min Sketch for unbounded-cardinality keyspaces, a distinct-count
// path backed by the HyperLogLog, and a running top-K tracker.
//
// Lifecycle and background housekeeping are grounded on the teacher's
// Service type (stopChan + sync.WaitGroup + a ticking goroutine), here
// driving window eviction instead of TTL cleanup.
type Facade struct {
	config Config

	// exactRings holds one *RingBuffer per key for domains with bounded
	// key cardinality (warehouse item x warehouse, parking lot, rounded
	// price). get-or-create via sync.Map.LoadOrStore mirrors the
	// teacher's TokenBucket.getOrCreateBucket.
	exactRings sync.Map // string -> *RingBuffer

	rollingCMS *RollingCMS
	rollingHLL *RollingHLL
	topK       *BoundedTopK
	shardLocks *ShardedLockMap

	observedTime atomic.Int64

	dedup    *dedupCache
	coalesce singleflight.Group
	metrics  Metrics

	scanHook func(evicted int, latency time.Duration)

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewFacade validates cfg and builds a Facade. Construction is the only
// point at which bad configuration is reported (spec error kind 4).
func NewFacade(cfg Config) (*Facade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Facade{
		config:     cfg,
		rollingCMS: NewRollingCMS(cfg.BucketSize, cfg.WindowSeconds, cfg.CMSDepth, cfg.CMSWidth),
		rollingHLL: NewRollingHLL(cfg.BucketSize, cfg.WindowSeconds, cfg.HLLPrecision),
		topK:       NewBoundedTopK(cfg.TopKCapacity),
		shardLocks: NewShardedLockMap(cfg.NumStripes),
		dedup:      newDedupCache(cfg.DedupCacheSize),
		stopChan:   make(chan struct{}),
	}
	f.observedTime.Store(unsetEra)
	return f, nil
}

// Config returns the façade's immutable configuration.
func (f *Facade) Config() Config { return f.config }

// ShardLocks exposes the sharded lock infrastructure so domain façades
// can build multi-key compound operations (e.g. a warehouse transfer)
// directly on top of it, following the canonical-order two-key locking
// rule in spec section 4.7.
func (f *Facade) ShardLocks() *ShardedLockMap { return f.shardLocks }

// Metrics returns the façade's live operational counters.
func (f *Facade) Metrics() *Metrics { return &f.metrics }

// ActiveRingCount returns the number of distinct keys currently holding an
// exact-count RingBuffer, for memory-footprint reporting. Façades that only
// use the approximate (CMS/HLL) paths never populate exactRings, so this is
// zero for them.
func (f *Facade) ActiveRingCount() int {
	count := 0
	f.exactRings.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// ObservedTime returns the monotonic high-water mark of every timestamp
// ever accepted.
func (f *Facade) ObservedTime() int64 {
	v := f.observedTime.Load()
	if v == unsetEra {
		return 0
	}
	return v
}

// advanceObservedTime performs a lock-free compare-and-max: concurrent
// callers racing to advance observed_time all converge on the maximum
// timestamp any of them offered, satisfying the same guarantee spec
// section 5 describes for a mutex-guarded compare-and-max without
// needing the analytics lock on this hot path.
func (f *Facade) advanceObservedTime(ts int64) {
	for {
		cur := f.observedTime.Load()
		if cur != unsetEra && ts <= cur {
			return
		}
		if f.observedTime.CAS(cur, ts) {
			return
		}
	}
}

// isStale reports whether ts lies before the façade's lateness floor
// (observed_time - max_lateness). Before any event has been observed,
// nothing is stale.
func (f *Facade) isStale(ts int64) bool {
	cur := f.observedTime.Load()
	if cur == unsetEra {
		return false
	}
	return ts < cur-f.config.MaxLatenessSeconds
}

// acceptResult distinguishes a stale drop, a duplicate no-op, and a fresh
// event the caller should proceed to apply. AcceptEvent collapses this into
// a bool for callers that only need the gate; Record* methods switch on it
// directly so a duplicate idempotency key short-circuits before mutating
// anything, instead of merely skipping the observed-time advance.
type acceptResult int

const (
	acceptStale acceptResult = iota
	acceptDuplicate
	acceptFresh
)

func (f *Facade) accept(ts int64, idempotencyKey string) acceptResult {
	if f.isStale(ts) {
		f.metrics.StaleDropped.Inc()
		return acceptStale
	}
	if idempotencyKey != "" && f.dedup.SeenOrRemember(idempotencyKey) {
		f.metrics.DuplicateHits.Inc()
		return acceptDuplicate
	}
	f.advanceObservedTime(ts)
	return acceptFresh
}

// AcceptEvent applies the shared stale-event and duplicate-op policy
// (spec error kinds 1 and 2) ahead of a mutation: it returns false
// without side effects if ts is stale, true (short-circuiting as a
// successful no-op) if idempotencyKey has already been applied, and
// otherwise advances observed_time and returns true so the caller can
// proceed with its mutation. idempotencyKey may be empty to opt out of
// dedup.
func (f *Facade) AcceptEvent(ts int64, idempotencyKey string) bool {
	return f.accept(ts, idempotencyKey) != acceptStale
}

// coalesceMutation ensures concurrent callers sharing the same non-empty
// idempotencyKey execute fn at most once, the rest waiting on and sharing
// its result, following warming/service.go's singleflight.Group usage for
// deduplicating concurrent identical origin fetches. An empty idempotency
// key opts out and runs fn directly.
func (f *Facade) coalesceMutation(idempotencyKey string, fn func() bool) bool {
	if idempotencyKey == "" {
		return fn()
	}
	v, _, _ := f.coalesce.Do(idempotencyKey, func() (interface{}, error) {
		return fn(), nil
	})
	return v.(bool)
}

// RingFor returns the exact-count RingBuffer for key, creating it (sized
// per the façade's configured window/bucket) on first use. Exposed for
// domain façades whose keyspace has bounded cardinality and who need
// exact rather than approximate counts, and for multi-key compound
// operations (transfer) that must hold a shard lock across two RingBuffer
// mutations.
func (f *Facade) RingFor(key string) *RingBuffer {
	if existing, ok := f.exactRings.Load(key); ok {
		return existing.(*RingBuffer)
	}
	fresh := NewRingBuffer(f.config.BucketSize, f.config.WindowSeconds)
	actual, _ := f.exactRings.LoadOrStore(key, fresh)
	return actual.(*RingBuffer)
}

// RecordExact applies delta to key's exact ring at ts. Returns false if
// the event was dropped as stale; a duplicate idempotency key returns
// true without double-applying.
func (f *Facade) RecordExact(key string, ts int64, delta uint64, idempotencyKey string) bool {
	return f.coalesceMutation(idempotencyKey, func() bool {
		switch f.accept(ts, idempotencyKey) {
		case acceptStale:
			return false
		case acceptDuplicate:
			return true
		}
		f.shardLocks.WithLock(key, func() {
			f.RingFor(key).Add(ts, delta)
		})
		f.metrics.Recorded.Inc()
		return true
	})
}

// RetractExact saturating-subtracts delta from key's exact ring at ts.
// A retraction against an era that has already rolled off the ring is a
// silent no-op, per spec's retract contract.
func (f *Facade) RetractExact(key string, ts int64, delta uint64, idempotencyKey string) bool {
	return f.coalesceMutation(idempotencyKey, func() bool {
		if idempotencyKey != "" && f.dedup.SeenOrRemember(idempotencyKey) {
			f.metrics.DuplicateHits.Inc()
			return true
		}
		f.shardLocks.WithLock(key, func() {
			f.RingFor(key).Sub(ts, delta)
		})
		f.metrics.Retracted.Inc()
		return true
	})
}

// MoveExact relocates a prior contribution from oldTs to newTs for the
// same key: retract at oldTs, record at newTs, both under one acquisition
// of key's shard lock so no other mutation of key can interleave between
// the two halves. Readers do not take the shard lock, so a concurrent
// CountWindowExact may observe the state between them. A stale oldTs whose bucket has already rolled off
// makes the retract half a no-op but the record half still applies.
func (f *Facade) MoveExact(key string, oldTs, newTs int64, delta uint64, idempotencyKey string) bool {
	return f.coalesceMutation(idempotencyKey, func() bool {
		if idempotencyKey != "" && f.dedup.SeenOrRemember(idempotencyKey) {
			f.metrics.DuplicateHits.Inc()
			return true
		}
		f.shardLocks.WithLock(key, func() {
			ring := f.RingFor(key)
			ring.Sub(oldTs, delta)
			ring.Add(newTs, delta)
		})
		f.advanceObservedTime(newTs)
		f.metrics.Moved.Inc()
		return true
	})
}

// CountWindowExact returns the exact sum over the trailing t seconds for
// key's ring (0 if key was never recorded).
func (f *Facade) CountWindowExact(key string, t int64) uint64 {
	if t > f.config.WindowSeconds {
		t = f.config.WindowSeconds
	}
	cutoff := f.ObservedTime() - t
	return f.RingFor(key).SumSince(cutoff)
}

// CountTotalExact returns the exact sum over the whole configured window
// for key's ring.
func (f *Facade) CountTotalExact(key string) uint64 {
	return f.CountWindowExact(key, f.config.WindowSeconds)
}

// RecordApprox adds delta to key's frequency in the shared Count-Min
// Sketch, for keyspaces too large to give each key its own RingBuffer.
func (f *Facade) RecordApprox(key string, ts int64, delta uint64, idempotencyKey string) bool {
	return f.coalesceMutation(idempotencyKey, func() bool {
		switch f.accept(ts, idempotencyKey) {
		case acceptStale:
			return false
		case acceptDuplicate:
			return true
		}
		f.rollingCMS.Add(key, ts, delta)
		f.metrics.Recorded.Inc()
		return true
	})
}

// CountWindowApprox returns the Count-Min Sketch's upper-bound estimate
// for key over the trailing t seconds.
func (f *Facade) CountWindowApprox(key string, t int64) uint64 {
	if t > f.config.WindowSeconds {
		t = f.config.WindowSeconds
	}
	now := f.ObservedTime()
	return f.rollingCMS.EstimateSince(key, now-t, now)
}

// CountTotalApprox returns the Count-Min Sketch's O(1) full-window
// estimate for key.
func (f *Facade) CountTotalApprox(key string) uint64 {
	return f.rollingCMS.EstimateFullWindow(key)
}

// RecordUnique inserts element into the shared HyperLogLog at ts, for
// distinct-count queries.
func (f *Facade) RecordUnique(element string, ts int64, idempotencyKey string) bool {
	return f.coalesceMutation(idempotencyKey, func() bool {
		switch f.accept(ts, idempotencyKey) {
		case acceptStale:
			return false
		case acceptDuplicate:
			return true
		}
		f.rollingHLL.Add(element, ts)
		f.metrics.Recorded.Inc()
		return true
	})
}

// UniqueWindow returns the HyperLogLog's distinct-count estimate over the
// trailing t seconds.
func (f *Facade) UniqueWindow(t int64) uint64 {
	if t > f.config.WindowSeconds {
		t = f.config.WindowSeconds
	}
	now := f.ObservedTime()
	return f.rollingHLL.UniqueSince(now-t, now)
}

// UpdateTopK offers (key, score) to the shared BoundedTopK.
func (f *Facade) UpdateTopK(key string, score float64) {
	f.topK.Offer(key, score)
}

// RemoveTopK evicts key from the shared BoundedTopK, if tracked.
func (f *Facade) RemoveTopK(key string) {
	f.topK.Remove(key)
}

// TopK returns the top k tracked (key, score) pairs, descending by
// score. May return fewer than k.
func (f *Facade) TopK(k int) []KeyScore {
	return f.topK.Top(k)
}

// StartHousekeeping spawns a background goroutine that periodically
// scans the rolling sketches for eras that have aged out of the window
// and evicts them, so cold keys don't keep contributing to merged
// estimates forever even without new writes rotating their bucket. This
// is the "suspension point" spec section 5 allows: it yields between the
// CMS scan and the HLL scan rather than holding any single lock across
// both.
func (f *Facade) StartHousekeeping(interval time.Duration) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-f.stopChan:
				return
			case <-ticker.C:
				f.runHousekeepingScan()
			}
		}
	}()
}

func (f *Facade) runHousekeepingScan() {
	start := time.Now()
	cutoff := f.ObservedTime() - f.config.WindowSeconds
	evicted := f.rollingCMS.ScanAndEvict(cutoff)
	evicted += f.rollingHLL.ScanAndEvict(cutoff)
	if evicted > 0 {
		f.metrics.WindowEvicted.Add(uint64(evicted))
	}
	if f.scanHook != nil {
		f.scanHook(evicted, time.Since(start))
	}
}

// SetScanHook registers fn to run after every housekeeping scan, reporting
// how many bucket sketches were reclaimed and how long the scan took. Used
// by domain services to publish a scan-completion event without pulling an
// Encore or pubsub dependency into this package.
func (f *Facade) SetScanHook(fn func(evicted int, latency time.Duration)) {
	f.scanHook = fn
}

// Stop halts the housekeeping goroutine and waits for it to exit.
func (f *Facade) Stop() {
	close(f.stopChan)
	f.wg.Wait()
}
