package corewindow

import "testing"

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("expected default config to validate, got %v", err)
	}
}

func TestConfig_ValidateRejectsBadBucketDivision(t *testing.T) {
	c := DefaultConfig()
	c.BucketSize = 7
	c.WindowSeconds = 100
	if err := c.Validate(); err == nil {
		t.Error("expected an error when BucketSize does not divide WindowSeconds")
	}
}

func TestConfig_ValidateRejectsNonPowerOfTwoStripes(t *testing.T) {
	c := DefaultConfig()
	c.NumStripes = 100
	if err := c.Validate(); err == nil {
		t.Error("expected an error for a non-power-of-two stripe count")
	}
}

func TestConfig_ValidateRejectsZeroHLLPrecision(t *testing.T) {
	c := DefaultConfig()
	c.HLLPrecision = 0
	if err := c.Validate(); err == nil {
		t.Error("expected an error for zero HLL precision")
	}
}

func TestConfig_ValidateRejectsNegativeLateness(t *testing.T) {
	c := DefaultConfig()
	c.MaxLatenessSeconds = -1
	if err := c.Validate(); err == nil {
		t.Error("expected an error for negative max lateness")
	}
}

func TestConfig_ValidateRejectsNegativeAuditCapacity(t *testing.T) {
	c := DefaultConfig()
	c.AuditCapacity = -1
	if err := c.Validate(); err == nil {
		t.Error("expected an error for negative audit capacity")
	}
}

func TestConfig_ValidateAllowsZeroAuditCapacity(t *testing.T) {
	c := DefaultConfig()
	c.AuditCapacity = 0
	if err := c.Validate(); err != nil {
		t.Errorf("zero audit capacity should be valid (disables audit log), got %v", err)
	}
}
