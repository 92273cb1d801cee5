package corewindow

import "sync"

// unsetEra is the sentinel for "never initialised". Era 0 is a legitimate
// bucket-aligned timestamp, so the sentinel must be a value no real era can
// take; negative eras never occur since timestamps are seconds since an
// epoch.
const unsetEra = int64(-1)

// AtomicBucket is the smallest cell in a RingBuffer: a (era, value) pair
// guarded by one mutex, with compare-by-era add/subtract so that ring reuse
// is safe without a separate sweep.
type AtomicBucket struct {
	mu    sync.Mutex
	era   int64
	value uint64
}

// newAtomicBucket returns a bucket in the "never initialised" state.
func newAtomicBucket() *AtomicBucket {
	return &AtomicBucket{era: unsetEra}
}

// Add applies delta to the bucket for the given era. If era is older than
// the bucket's current era the call is a no-op (a late arrival for a slot
// that has already rotated past it). If era is newer, the bucket rotates:
// its value resets to delta rather than accumulating onto stale data. If
// era matches, delta accumulates.
func (b *AtomicBucket) Add(era int64, delta uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case era < b.era:
		return
	case era > b.era:
		b.era = era
		b.value = delta
	default:
		b.value += delta
	}
}

// Sub saturates at zero and only applies when era matches the bucket's
// current era; a subtraction against a stale or future era is ignored,
// since there is nothing live there to subtract from.
func (b *AtomicBucket) Sub(era int64, delta uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if era != b.era {
		return
	}
	if delta > b.value {
		b.value = 0
	} else {
		b.value -= delta
	}
}

// Read atomically returns the bucket's era and value together.
func (b *AtomicBucket) Read() (era int64, value uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.era, b.value
}

// GetIfFresh returns the bucket's value iff its era is at or after
// minEra, else 0. Used by windowed summation to skip stale slots without
// a separate liveness map.
func (b *AtomicBucket) GetIfFresh(minEra int64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.era < minEra {
		return 0
	}
	return b.value
}

// Reset clears the bucket back to its never-initialised state.
func (b *AtomicBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.era = unsetEra
	b.value = 0
}
