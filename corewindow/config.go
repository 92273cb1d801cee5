package corewindow

import (
	"errors"
	"fmt"
)

// Config is the immutable, constructor-time configuration for a Facade.
// Every field has a spec-mandated default applied by DefaultConfig.
type Config struct {
	WindowSeconds      int64 // Trailing window width.
	BucketSize         int64 // Ring granularity; must divide WindowSeconds.
	CMSDepth           int   // Count-Min Sketch rows.
	CMSWidth           int   // Count-Min Sketch columns.
	HLLPrecision       uint  // HyperLogLog register-count precision.
	TopKCapacity       int   // BoundedTopK capacity.
	NumStripes         int   // Sharded lock stripe count; must be a power of two.
	MaxLatenessSeconds int64 // Events older than observed_time - this are dropped.
	DedupCacheSize     int   // Idempotency-key cache capacity, 0 disables it.
	AuditCapacity      int   // Per-key bounded audit-log ring size; 0 means the façade keeps no audit log.
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		WindowSeconds:      86400,
		BucketSize:         10,
		CMSDepth:           5,
		CMSWidth:           1024,
		HLLPrecision:       14,
		TopKCapacity:       100,
		NumStripes:         128,
		MaxLatenessSeconds: 86400,
		DedupCacheSize:     100000,
		AuditCapacity:      1000,
	}
}

// Validate rejects non-positive windows, a bucket size that doesn't
// divide the window, a non-power-of-two stripe count, and other
// construction-time misconfiguration, per spec kind-4 errors
// ("Configuration-invalid"). Façade construction is fallible; it never
// panics on bad config.
func (c Config) Validate() error {
	if c.WindowSeconds <= 0 {
		return errors.New("corewindow: WindowSeconds must be positive")
	}
	if c.BucketSize <= 0 {
		return errors.New("corewindow: BucketSize must be positive")
	}
	if c.WindowSeconds%c.BucketSize != 0 {
		return fmt.Errorf("corewindow: BucketSize %d must divide WindowSeconds %d", c.BucketSize, c.WindowSeconds)
	}
	if c.CMSDepth <= 0 || c.CMSWidth <= 0 {
		return errors.New("corewindow: CMSDepth and CMSWidth must be positive")
	}
	if c.HLLPrecision == 0 || c.HLLPrecision > 24 {
		return errors.New("corewindow: HLLPrecision must be in (0, 24]")
	}
	if c.TopKCapacity <= 0 {
		return errors.New("corewindow: TopKCapacity must be positive")
	}
	if c.NumStripes <= 0 || c.NumStripes&(c.NumStripes-1) != 0 {
		return errors.New("corewindow: NumStripes must be a power of two")
	}
	if c.MaxLatenessSeconds < 0 {
		return errors.New("corewindow: MaxLatenessSeconds must be non-negative")
	}
	if c.DedupCacheSize < 0 {
		return errors.New("corewindow: DedupCacheSize must be non-negative")
	}
	if c.AuditCapacity < 0 {
		return errors.New("corewindow: AuditCapacity must be non-negative")
	}
	return nil
}
