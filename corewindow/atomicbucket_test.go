package corewindow

import "testing"

func TestAtomicBucket_AddAccumulatesWithinEra(t *testing.T) {
	b := newAtomicBucket()
	b.Add(100, 5)
	b.Add(100, 3)

	era, value := b.Read()
	if era != 100 || value != 8 {
		t.Errorf("expected era=100 value=8, got era=%d value=%d", era, value)
	}
}

func TestAtomicBucket_AddRotatesOnNewerEra(t *testing.T) {
	b := newAtomicBucket()
	b.Add(100, 5)
	b.Add(110, 3)

	era, value := b.Read()
	if era != 110 || value != 3 {
		t.Errorf("expected rotation to era=110 value=3, got era=%d value=%d", era, value)
	}
}

func TestAtomicBucket_AddIgnoresOlderEra(t *testing.T) {
	b := newAtomicBucket()
	b.Add(110, 3)
	b.Add(100, 99)

	era, value := b.Read()
	if era != 110 || value != 3 {
		t.Errorf("late arrival should be dropped, got era=%d value=%d", era, value)
	}
}

func TestAtomicBucket_SubSaturatesAtZero(t *testing.T) {
	b := newAtomicBucket()
	b.Add(100, 5)
	b.Sub(100, 9)

	_, value := b.Read()
	if value != 0 {
		t.Errorf("expected saturating subtraction to floor at 0, got %d", value)
	}
}

func TestAtomicBucket_SubIgnoresMismatchedEra(t *testing.T) {
	b := newAtomicBucket()
	b.Add(100, 5)
	b.Sub(90, 5)

	_, value := b.Read()
	if value != 5 {
		t.Errorf("subtraction against a different era should be a no-op, got %d", value)
	}
}

func TestAtomicBucket_GetIfFresh(t *testing.T) {
	b := newAtomicBucket()
	b.Add(100, 7)

	if v := b.GetIfFresh(100); v != 7 {
		t.Errorf("expected 7 at minEra=100, got %d", v)
	}
	if v := b.GetIfFresh(101); v != 0 {
		t.Errorf("expected 0 for minEra newer than bucket era, got %d", v)
	}
}

func TestAtomicBucket_ResetReturnsToUnset(t *testing.T) {
	b := newAtomicBucket()
	b.Add(100, 7)
	b.Reset()

	era, value := b.Read()
	if era != unsetEra || value != 0 {
		t.Errorf("expected unset era and zero value after Reset, got era=%d value=%d", era, value)
	}
}
