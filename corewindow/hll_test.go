package corewindow

import (
	"fmt"
	"math"
	"testing"
)

func TestHyperLogLog_EstimateWithinErrorBound(t *testing.T) {
	h := NewHyperLogLog(14)
	const n = 10000
	for i := 0; i < n; i++ {
		h.Add(fmt.Sprintf("element-%d", i))
	}

	got := h.Estimate()
	errBound := 0.05 * n // generous bound for a fixed seed, precision 14 is ~0.8% typical
	if math.Abs(float64(got)-n) > errBound {
		t.Errorf("estimate %d too far from true cardinality %d (bound %.0f)", got, n, errBound)
	}
}

func TestHyperLogLog_DuplicatesDontInflateCount(t *testing.T) {
	h := NewHyperLogLog(10)
	for i := 0; i < 100; i++ {
		h.Add("same-key")
	}

	if got := h.Estimate(); got > 5 {
		t.Errorf("expected estimate near 1 for a single repeated key, got %d", got)
	}
}

func TestHyperLogLog_MergeIsRegisterwiseMax(t *testing.T) {
	a := NewHyperLogLog(10)
	b := NewHyperLogLog(10)
	for i := 0; i < 500; i++ {
		a.Add(fmt.Sprintf("a-%d", i))
	}
	for i := 0; i < 500; i++ {
		b.Add(fmt.Sprintf("b-%d", i))
	}

	a.Merge(b)
	got := a.Estimate()
	if got < 700 || got > 1300 {
		t.Errorf("merged estimate %d outside plausible range for ~1000 distinct elements", got)
	}
}

func TestHyperLogLog_Reset(t *testing.T) {
	h := NewHyperLogLog(8)
	h.Add("x")
	h.Reset()

	for _, r := range h.registers {
		if r != 0 {
			t.Fatal("expected every register to be zero after Reset")
		}
	}
}
