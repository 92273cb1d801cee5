// Package models provides canonical data models shared across the analytics
// core's domain façades.
//
// Design Philosophy:
//   - Minimal allocations on hot paths
//   - Plain value types; no behavior that depends on a specific façade
package models

// FacadeFootprint estimates a façade's approximate in-memory footprint,
// broken down by sub-structure. Reported in a WindowScanEvent's Meta so
// monitoring can track memory growth per façade without importing
// corewindow types.
type FacadeFootprint struct {
	Facade     string
	CMSBytes   int64
	HLLBytes   int64
	TopKBytes  int64
	RingBytes  int64 // sum across all actively tracked exact-count keys
	TotalBytes int64
}

// EstimateCMSBytes returns the approximate byte footprint of a depth x width
// Count-Min Sketch at 4 bytes per counter. corewindow's CountMinSketch keeps
// uint64 counters, so its table is twice this figure.
func EstimateCMSBytes(depth, width uint) int64 {
	return int64(depth) * int64(width) * 4
}

// EstimateHLLBytes returns the approximate byte footprint of a HyperLogLog
// sketch at the given precision (2^precision single-byte registers).
func EstimateHLLBytes(precision uint) int64 {
	return int64(1) << precision
}

// EstimateTopKBytes returns the approximate byte footprint of a bounded
// top-K tracker holding up to capacity (key, score) entries.
func EstimateTopKBytes(capacity int) int64 {
	const perEntry = 40 // string header + float64 score + heap index bookkeeping
	return int64(capacity) * perEntry
}

// EstimateRingBytes returns the approximate byte footprint of activeRings
// per-key ring buffers, each holding bucketsPerRing buckets.
func EstimateRingBytes(bucketsPerRing, activeRings int) int64 {
	const perBucket = 24 // era int64 + value uint64 + padding
	return int64(bucketsPerRing) * int64(activeRings) * perBucket
}

// NewFacadeFootprint combines the sub-estimates into a single snapshot.
func NewFacadeFootprint(facade string, cmsDepth, cmsWidth, hllPrecision uint, topKCapacity, bucketsPerRing, activeRings int) FacadeFootprint {
	cms := EstimateCMSBytes(cmsDepth, cmsWidth)
	hll := EstimateHLLBytes(hllPrecision)
	topk := EstimateTopKBytes(topKCapacity)
	ring := EstimateRingBytes(bucketsPerRing, activeRings)

	return FacadeFootprint{
		Facade:     facade,
		CMSBytes:   cms,
		HLLBytes:   hll,
		TopKBytes:  topk,
		RingBytes:  ring,
		TotalBytes: cms + hll + topk + ring,
	}
}
