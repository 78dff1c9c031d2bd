package qindex

import "testing"

func TestSegmentStoreFindOrCreateAndKeys(t *testing.T) {
	s := NewSegmentStore(t.TempDir())
	s.FindOrCreate(2)
	s.FindOrCreate(0)
	s.FindOrCreate(1)

	keys := s.Keys()
	want := []uint64{0, 1, 2}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

func TestSegmentStoreMRUCapped(t *testing.T) {
	s := NewSegmentStore(t.TempDir())
	s.FindOrCreate(0)
	s.FindOrCreate(1)
	s.FindOrCreate(2)

	if s.Warm(0) {
		t.Fatalf("segment 0 should have been evicted from the MRU window")
	}
	if !s.Warm(1) || !s.Warm(2) {
		t.Fatalf("segments 1 and 2 should still be warm")
	}
}

func TestSegmentStoreDelete(t *testing.T) {
	s := NewSegmentStore(t.TempDir())
	s.FindOrCreate(5)
	s.Delete(5)
	if _, ok := s.Find(5); ok {
		t.Fatalf("expected segment 5 to be gone after Delete")
	}
}

func TestSegmentStoreMap(t *testing.T) {
	s := NewSegmentStore(t.TempDir())
	s.FindOrCreate(3)
	s.FindOrCreate(1)

	var seen []uint64
	s.Map(func(st *SegmentState) { seen = append(seen, st.Num) })
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 3 {
		t.Fatalf("expected ascending order, got %v", seen)
	}
}
