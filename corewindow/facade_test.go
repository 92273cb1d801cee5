package corewindow

import (
	"testing"
	"time"
)

func smallConfig() Config {
	return Config{
		WindowSeconds:      100,
		BucketSize:         10,
		CMSDepth:           4,
		CMSWidth:           256,
		HLLPrecision:       10,
		TopKCapacity:       5,
		NumStripes:         8,
		MaxLatenessSeconds: 30,
		DedupCacheSize:     64,
	}
}

func TestNewFacade_RejectsInvalidConfig(t *testing.T) {
	bad := smallConfig()
	bad.BucketSize = 3 // does not divide WindowSeconds=100
	if _, err := NewFacade(bad); err == nil {
		t.Error("expected an error constructing a Facade from invalid config")
	}
}

func TestFacade_RecordExactThenCountTotal(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}

	f.RecordExact("lot-1", 100, 3, "")
	f.RecordExact("lot-1", 105, 2, "")

	if got := f.CountTotalExact("lot-1"); got != 5 {
		t.Errorf("expected total 5, got %d", got)
	}
}

func TestFacade_RecordThenRetractIsIdempotentRoundTrip(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}

	f.RecordExact("item", 100, 10, "")
	f.RetractExact("item", 100, 10, "")

	if got := f.CountTotalExact("item"); got != 0 {
		t.Errorf("expected 0 after a full record+retract round trip, got %d", got)
	}
}

func TestFacade_MoveRelocatesQuantityBetweenBuckets(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}

	f.RecordExact("bed-1", 100, 1, "")
	f.MoveExact("bed-1", 100, 150, 1, "")

	if got := f.CountWindowExact("bed-1", 10); got != 1 {
		t.Errorf("expected the moved quantity to show up at the new timestamp, got %d", got)
	}
}

func TestFacade_DuplicateIdempotencyKeyIsANoOp(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}

	f.RecordExact("item", 100, 5, "req-1")
	f.RecordExact("item", 100, 5, "req-1") // duplicate, must not double-apply

	if got := f.CountTotalExact("item"); got != 5 {
		t.Errorf("expected duplicate idempotency key to be a no-op, got total %d", got)
	}
	if f.Metrics().Snapshot().DuplicateHits != 1 {
		t.Errorf("expected 1 duplicate hit recorded, got %d", f.Metrics().Snapshot().DuplicateHits)
	}
}

func TestFacade_StaleEventIsDropped(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}

	f.RecordExact("item", 1000, 5, "")
	accepted := f.RecordExact("item", 1000-100, 5, "") // far older than MaxLatenessSeconds=30
	if accepted {
		t.Error("expected a far-stale event to be rejected")
	}
	if f.Metrics().Snapshot().StaleDropped != 1 {
		t.Errorf("expected 1 stale-dropped counter, got %d", f.Metrics().Snapshot().StaleDropped)
	}
}

func TestFacade_ObservedTimeIsMonotonic(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}

	f.RecordExact("item", 500, 1, "")
	f.RecordExact("item", 200, 1, "") // earlier than the lateness floor (500-30), dropped as stale
	if f.ObservedTime() != 500 {
		t.Errorf("expected observed_time to stay at the max seen (500), got %d", f.ObservedTime())
	}

	f.RecordExact("item", 499, 1, "")
	if f.ObservedTime() != 500 {
		t.Errorf("observed_time must never move backward, got %d", f.ObservedTime())
	}
}

func TestFacade_RecordApproxAndCountWindowApprox(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}

	f.RecordApprox("#trending", 100, 1, "")
	f.RecordApprox("#trending", 105, 1, "")

	if got := f.CountTotalApprox("#trending"); got < 2 {
		t.Errorf("expected approx count >= 2, got %d", got)
	}
}

func TestFacade_RecordUniqueAndUniqueWindow(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 50; i++ {
		f.RecordUnique(string(rune('a'+i%26))+"-user", 100, "")
	}

	got := f.UniqueWindow(100)
	if got == 0 {
		t.Error("expected a nonzero distinct-count estimate")
	}
}

func TestFacade_TopKTracksHighestScores(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}

	f.UpdateTopK("a", 1)
	f.UpdateTopK("b", 5)
	f.UpdateTopK("c", 3)

	top := f.TopK(1)
	if len(top) != 1 || top[0].Key != "b" {
		t.Errorf("expected top-1 to be 'b', got %+v", top)
	}
}

func TestFacade_HousekeepingEvictsStaleBuckets(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}

	f.RecordApprox("#old", 100, 1, "")
	f.RecordExact("item", 500, 1, "") // advances observed_time far past #old's era

	f.runHousekeepingScan()

	if got := f.CountTotalApprox("#old"); got != 0 {
		t.Errorf("expected housekeeping to evict the stale approx bucket, got %d", got)
	}
}

func TestFacade_StartStopHousekeeping(t *testing.T) {
	f, err := NewFacade(smallConfig())
	if err != nil {
		t.Fatal(err)
	}
	f.StartHousekeeping(time.Millisecond)
	f.Stop()
}
