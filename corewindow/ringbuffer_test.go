package corewindow

import "testing"

func TestRingBuffer_SumSinceIncludesBoundary(t *testing.T) {
	r := NewRingBuffer(10, 50)
	r.Add(100, 1)
	r.Add(110, 1)
	r.Add(120, 1)

	// cutoff exactly on bucket 110's era must include it.
	if got := r.SumSince(110); got != 2 {
		t.Errorf("expected boundary-inclusive sum of 2, got %d", got)
	}
}

func TestRingBuffer_SumSinceExcludesOlder(t *testing.T) {
	r := NewRingBuffer(10, 50)
	r.Add(100, 1)
	r.Add(150, 1)

	if got := r.SumSince(150); got != 1 {
		t.Errorf("expected only the current bucket, got %d", got)
	}
}

func TestRingBuffer_SubIsNoOpAfterRotation(t *testing.T) {
	r := NewRingBuffer(10, 20)
	r.Add(100, 5)
	// numBuckets = 3, so era 100 and era 130 map to the same slot and 130 > 100 rotates it.
	r.Add(130, 2)
	r.Sub(100, 5)

	if got := r.Total(); got != 2 {
		t.Errorf("subtract against a rotated-away era should be dropped, got total=%d", got)
	}
}

func TestRingBuffer_WrapAroundReusesSlots(t *testing.T) {
	r := NewRingBuffer(10, 20) // numBuckets = 3
	for era := int64(0); era < 300; era += 10 {
		r.Add(era, 1)
	}

	// Only the buckets still within the trailing window should be live.
	total := r.SumSince(280)
	if total == 0 {
		t.Error("expected a nonzero sum for the trailing window after many rotations")
	}
}

func TestRingBuffer_BucketAt(t *testing.T) {
	r := NewRingBuffer(10, 30)
	r.Add(100, 4)

	era, value := r.BucketAt(100)
	if era != 100 || value != 4 {
		t.Errorf("expected era=100 value=4, got era=%d value=%d", era, value)
	}
}
