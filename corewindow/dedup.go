package corewindow

import (
	"container/list"
	"sync"
)

// dedupCache is a bounded LRU set of idempotency keys, used by Facade to
// answer "duplicate-op" (spec error kind 2) with a success no-op instead
// of re-applying a mutation. Bounded-size-with-LRU-eviction is the same
// shape the teacher's L1Cache uses for cache entries (map plus
// container/list for O(1) eviction order), applied here to idempotency
// keys instead of values.
type dedupCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

func newDedupCache(capacity int) *dedupCache {
	return &dedupCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// SeenOrRemember returns true if idempotencyKey has already been
// recorded (the caller should treat this as a no-op success), and
// otherwise remembers it, evicting the least-recently-used key if the
// cache is at capacity. A zero-capacity cache never remembers anything
// and always returns false.
func (d *dedupCache) SeenOrRemember(idempotencyKey string) bool {
	if d.capacity == 0 || idempotencyKey == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.entries[idempotencyKey]; ok {
		d.order.MoveToFront(elem)
		return true
	}

	elem := d.order.PushFront(idempotencyKey)
	d.entries[idempotencyKey] = elem

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.entries, oldest.Value.(string))
		}
	}

	return false
}
