// Package corewindow implements a sharded, thread-safe, bounded-memory
// sliding-window analytics core: a lock-striped ring-buffer aggregator, a
// rolling Count-Min Sketch for approximate per-key frequency, a rolling
// HyperLogLog for approximate distinct-count, and a bounded top-K tracker,
// combined behind a single Facade.
//
// Design Philosophy:
//   - Correctness under concurrent mutation takes priority over raw
//     throughput; every critical section is bounded (O(1) for hot paths,
//     O(depth*width) worst case for a sketch rotation).
//   - Memory is bounded by configuration, never by ingest rate: cold keys
//     persist in the sketches only until their bucket's era rolls off.
//   - Window semantics are monotonic: observed_time only ever advances,
//     and out-of-order or retroactive events are handled by comparing an
//     event's era against a bucket's stored era rather than by wall-clock
//     reads inside the core.
//
// Performance Characteristics:
//   - AtomicBucket.add/sub: O(1), one mutex per bucket.
//   - RollingCMS rotation: O(depth*width) only on the bucket that has
//     aged out, amortized to O(1) per add.
//   - BoundedTopK.Offer: O(log K).
//
// This package has no dependency on Encore or HTTP; domain façades
// (trending, orderbook, carpark, warehouse, visits) are the only callers.
package corewindow
