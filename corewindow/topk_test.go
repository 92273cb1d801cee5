package corewindow

import "testing"

func TestBoundedTopK_OfferFillsUpToCapacity(t *testing.T) {
	k := NewBoundedTopK(3)
	k.Offer("a", 1)
	k.Offer("b", 2)
	k.Offer("c", 3)

	if k.Len() != 3 {
		t.Fatalf("expected 3 tracked keys, got %d", k.Len())
	}
}

func TestBoundedTopK_OfferEvictsCurrentMinimumWhenBeaten(t *testing.T) {
	k := NewBoundedTopK(2)
	k.Offer("a", 1)
	k.Offer("b", 2)
	k.Offer("c", 10) // should evict "a" (the minimum)

	top := k.Top(2)
	keys := map[string]bool{top[0].Key: true, top[1].Key: true}
	if keys["a"] {
		t.Error("expected the minimum-scoring key to be evicted")
	}
	if !keys["c"] {
		t.Error("expected the new higher-scoring key to be admitted")
	}
}

func TestBoundedTopK_OfferIgnoresLoserAtCapacity(t *testing.T) {
	k := NewBoundedTopK(2)
	k.Offer("a", 5)
	k.Offer("b", 6)
	k.Offer("c", 1) // loses to both, should be ignored

	if _, ok := k.items["c"]; ok {
		t.Error("expected a below-minimum offer at capacity to be ignored")
	}
}

func TestBoundedTopK_OfferUpdatesExistingKey(t *testing.T) {
	k := NewBoundedTopK(3)
	k.Offer("a", 1)
	k.Offer("a", 50)

	top := k.Top(1)
	if len(top) != 1 || top[0].Score != 50 {
		t.Errorf("expected updated score 50, got %+v", top)
	}
}

func TestBoundedTopK_Remove(t *testing.T) {
	k := NewBoundedTopK(3)
	k.Offer("a", 1)
	k.Remove("a")

	if k.Len() != 0 {
		t.Errorf("expected 0 tracked keys after remove, got %d", k.Len())
	}
}

func TestBoundedTopK_SetZeroRemoves(t *testing.T) {
	k := NewBoundedTopK(3)
	k.Offer("a", 5)
	k.Set("a", 0)

	if k.Len() != 0 {
		t.Errorf("expected Set with score 0 to remove the key, got %d tracked", k.Len())
	}
}

func TestBoundedTopK_TopIsDescending(t *testing.T) {
	k := NewBoundedTopK(5)
	k.Offer("a", 3)
	k.Offer("b", 1)
	k.Offer("c", 2)

	top := k.Top(3)
	for i := 1; i < len(top); i++ {
		if top[i].Score > top[i-1].Score {
			t.Fatalf("expected descending order, got %+v", top)
		}
	}
}
