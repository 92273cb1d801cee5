package models

import "testing"

func TestEstimateCMSBytes(t *testing.T) {
	got := EstimateCMSBytes(5, 1024)
	want := int64(5 * 1024 * 4)
	if got != want {
		t.Errorf("EstimateCMSBytes(5, 1024) = %d, want %d", got, want)
	}
}

func TestEstimateHLLBytes(t *testing.T) {
	got := EstimateHLLBytes(14)
	want := int64(1 << 14)
	if got != want {
		t.Errorf("EstimateHLLBytes(14) = %d, want %d", got, want)
	}
}

func TestEstimateTopKBytes(t *testing.T) {
	got := EstimateTopKBytes(100)
	if got <= 0 {
		t.Errorf("EstimateTopKBytes(100) = %d, want positive", got)
	}
}

func TestEstimateRingBytes(t *testing.T) {
	got := EstimateRingBytes(8640, 3)
	want := int64(8640) * 3 * 24
	if got != want {
		t.Errorf("EstimateRingBytes(8640, 3) = %d, want %d", got, want)
	}
}

func TestNewFacadeFootprint(t *testing.T) {
	fp := NewFacadeFootprint("trending", 5, 1024, 14, 100, 8640, 50)

	if fp.Facade != "trending" {
		t.Errorf("Facade = %q, want trending", fp.Facade)
	}

	sum := fp.CMSBytes + fp.HLLBytes + fp.TopKBytes + fp.RingBytes
	if fp.TotalBytes != sum {
		t.Errorf("TotalBytes = %d, want sum of parts %d", fp.TotalBytes, sum)
	}
	if fp.TotalBytes <= 0 {
		t.Errorf("TotalBytes = %d, want positive", fp.TotalBytes)
	}
}

func TestNewFacadeFootprint_NoActiveRings(t *testing.T) {
	fp := NewFacadeFootprint("visits", 0, 0, 14, 0, 8640, 0)

	if fp.RingBytes != 0 {
		t.Errorf("RingBytes = %d, want 0 with no active rings", fp.RingBytes)
	}
	if fp.HLLBytes != EstimateHLLBytes(14) {
		t.Errorf("HLLBytes = %d, want %d", fp.HLLBytes, EstimateHLLBytes(14))
	}
}
