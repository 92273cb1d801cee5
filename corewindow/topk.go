package corewindow

import (
	"container/heap"
	"sort"
	"sync"
)

// topKItem is a single tracked key/score pair. heapIndex lets the
// min-heap update or remove an item in O(log K) instead of scanning for
// it, the same role container/list's *Element plays for the teacher's
// LRU cache.
type topKItem struct {
	key       string
	score     float64
	heapIndex int
}

// minHeap is a container/heap.Interface ordered by ascending score, so
// the root is always the current minimum — the item a new offer must
// beat to be admitted once the tracker is at capacity.
type minHeap []*topKItem

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *minHeap) Push(x interface{}) {
	item := x.(*topKItem)
	item.heapIndex = len(*h)
	*h = append(*h, item)
}

func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// BoundedTopK tracks the K highest-scoring keys seen via Offer/Set,
// evicting the current minimum whenever a higher-scoring newcomer
// arrives at capacity. It is only approximate-global: a key that never
// qualifies while the tracker is full is forgotten even if later activity
// would have qualified it; callers needing an authoritative answer must
// pair this with a full recompute path (as trending.TopKTrending does by
// also exposing a recompute-from-source path).
type BoundedTopK struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*topKItem
	heap     minHeap
}

// NewBoundedTopK builds a tracker of the given capacity (must be
// positive).
func NewBoundedTopK(capacity int) *BoundedTopK {
	return &BoundedTopK{
		capacity: capacity,
		items:    make(map[string]*topKItem, capacity),
		heap:     make(minHeap, 0, capacity),
	}
}

// Offer updates key's score if already tracked, inserts it if the
// tracker is below capacity, or replaces the current minimum if score
// beats it. Otherwise the offer is ignored.
func (b *BoundedTopK) Offer(key string, score float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if item, ok := b.items[key]; ok {
		item.score = score
		heap.Fix(&b.heap, item.heapIndex)
		return
	}

	if len(b.items) < b.capacity {
		item := &topKItem{key: key, score: score}
		b.items[key] = item
		heap.Push(&b.heap, item)
		return
	}

	if len(b.heap) == 0 || score <= b.heap[0].score {
		return
	}

	min := b.heap[0]
	delete(b.items, min.key)
	min.key, min.score = key, score
	b.items[key] = min
	heap.Fix(&b.heap, 0)
}

// Set behaves like Offer except a score of zero or below removes the key
// instead of inserting or updating it.
func (b *BoundedTopK) Set(key string, score float64) {
	if score <= 0 {
		b.Remove(key)
		return
	}
	b.Offer(key, score)
}

// Remove evicts key if tracked. No-op otherwise.
func (b *BoundedTopK) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, ok := b.items[key]
	if !ok {
		return
	}
	heap.Remove(&b.heap, item.heapIndex)
	delete(b.items, key)
}

// Score returns key's currently tracked score and whether it is tracked
// at all — a key evicted for falling below the current minimum (or
// never offered) reports false, per the tracker's approximate-global
// contract.
func (b *BoundedTopK) Score(key string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[key]
	if !ok {
		return 0, false
	}
	return item.score, true
}

// PeekMin returns the current minimum tracked score and whether the
// tracker holds any items at all.
func (b *BoundedTopK) PeekMin() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.heap) == 0 {
		return 0, false
	}
	return b.heap[0].score, true
}

// KeyScore is one (key, score) pair in a Snapshot result.
type KeyScore struct {
	Key   string
	Score float64
}

// Snapshot returns every tracked (key, score) pair sorted by descending
// score.
func (b *BoundedTopK) Snapshot() []KeyScore {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]KeyScore, 0, len(b.items))
	for _, item := range b.items {
		out = append(out, KeyScore{Key: item.key, Score: item.score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Top returns the top n entries (fewer if the tracker holds less than
// n), sorted by descending score.
func (b *BoundedTopK) Top(n int) []KeyScore {
	all := b.Snapshot()
	if n >= len(all) {
		return all
	}
	return all[:n]
}

// Len returns the number of keys currently tracked.
func (b *BoundedTopK) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
