package corewindow

import "go.uber.org/atomic"

// Metrics tracks façade-wide operational counters. Every counter is a
// go.uber.org/atomic type rather than raw sync/atomic calls, so the zero
// value is always safe to use and the race detector can tell these fields
// apart from plain integers at a glance — the teacher's own go.mod
// carries go.uber.org/atomic (indirect, pulled in by encore.dev); this
// promotes it to a direct dependency of the hot path.
type Metrics struct {
	Recorded      atomic.Uint64 // Accepted record() calls.
	Retracted     atomic.Uint64 // Accepted retract() calls.
	Moved         atomic.Uint64 // Accepted move() calls.
	StaleDropped  atomic.Uint64 // record calls and AcceptEvent gates dropped for being too old; retract/move never check staleness.
	DuplicateHits atomic.Uint64 // Calls short-circuited by the dedup cache.
	WindowEvicted atomic.Uint64 // Ring/sketch buckets reclaimed by housekeeping.
}

// Snapshot is a point-in-time copy of Metrics suitable for export without
// holding a reference to the live atomics.
type Snapshot struct {
	Recorded      uint64
	Retracted     uint64
	Moved         uint64
	StaleDropped  uint64
	DuplicateHits uint64
	WindowEvicted uint64
}

// Snapshot reads every counter into a plain struct.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Recorded:      m.Recorded.Load(),
		Retracted:     m.Retracted.Load(),
		Moved:         m.Moved.Load(),
		StaleDropped:  m.StaleDropped.Load(),
		DuplicateHits: m.DuplicateHits.Load(),
		WindowEvicted: m.WindowEvicted.Load(),
	}
}
