package qindex

import (
	"path/filepath"
	"sort"
	"strconv"
)

// SegmentState is the in-memory state of one segment (§3): its number, the
// path its on-disk image lives (or would live) at, the journal overlay of
// pending mutations keyed by relative sequence, and the unacked count over
// the merged (file ⨁ overlay) view.
//
// The overlay is a map rather than a dense [SegmentEntryCount]*Entry array:
// spec §9 calls out both as valid, and a queue whose segments are mostly
// quiet benefits from the map's much smaller footprint.
type SegmentState struct {
	Num     uint64
	Path    string
	Overlay map[uint32]*Entry
	Unacked int
}

func newSegmentState(num uint64, dir string) *SegmentState {
	return &SegmentState{
		Num:     num,
		Path:    filepath.Join(dir, segmentFileName(num)),
		Overlay: make(map[uint32]*Entry),
	}
}

// segmentFileName renders the "<seg>.idx" filename (§6).
func segmentFileName(num uint64) string {
	return strconv.FormatUint(num, 10) + ".idx"
}

// SegmentStore is the mapping from segment number to SegmentState (C2),
// plus a small MRU order of the most recently touched segment numbers
// (reported by Warm). Segments are never evicted from the map itself while
// they carry overlay entries or a nonzero unacked count — only the MRU
// order is bounded. No on-disk image is cached: readers load the segment
// file on every call.
type SegmentStore struct {
	dir      string
	segments map[uint64]*SegmentState
	mru      []uint64 // most recently touched first, capped at mruCacheSize
}

const mruCacheSize = 2

// NewSegmentStore creates an empty store rooted at dir.
func NewSegmentStore(dir string) *SegmentStore {
	return &SegmentStore{
		dir:      dir,
		segments: make(map[uint64]*SegmentState),
	}
}

// Find returns the segment state for num if it is already materialized.
func (s *SegmentStore) Find(num uint64) (*SegmentState, bool) {
	st, ok := s.segments[num]
	if ok {
		s.touch(num)
	}
	return st, ok
}

// FindOrCreate returns the segment state for num, creating a blank one
// (empty overlay, unacked 0, lazily-opened file) on first access.
func (s *SegmentStore) FindOrCreate(num uint64) *SegmentState {
	st, ok := s.segments[num]
	if !ok {
		st = newSegmentState(num, s.dir)
		s.segments[num] = st
	}
	s.touch(num)
	return st
}

// Store installs (or replaces) a segment state.
func (s *SegmentStore) Store(st *SegmentState) {
	s.segments[st.Num] = st
	s.touch(st.Num)
}

// Delete drops a segment from the store. Callers must have already
// ensured it has no pending overlay and no on-disk file (unacked == 0).
func (s *SegmentStore) Delete(num uint64) {
	delete(s.segments, num)
	for i, n := range s.mru {
		if n == num {
			s.mru = append(s.mru[:i], s.mru[i+1:]...)
			break
		}
	}
}

// Fold applies f to every segment state in ascending segment-number order,
// threading an accumulator through; it stops and returns the first error.
func Fold[Acc any](s *SegmentStore, acc Acc, f func(Acc, *SegmentState) (Acc, error)) (Acc, error) {
	var err error
	for _, num := range s.Keys() {
		acc, err = f(acc, s.segments[num])
		if err != nil {
			return acc, err
		}
	}
	return acc, nil
}

// Map applies f to every segment state in ascending segment-number order.
func (s *SegmentStore) Map(f func(*SegmentState)) {
	for _, num := range s.Keys() {
		f(s.segments[num])
	}
}

// Keys returns every known segment number in ascending order.
func (s *SegmentStore) Keys() []uint64 {
	keys := make([]uint64, 0, len(s.segments))
	for num := range s.segments {
		keys = append(keys, num)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len reports how many segments are currently materialized.
func (s *SegmentStore) Len() int {
	return len(s.segments)
}

func (s *SegmentStore) touch(num uint64) {
	for i, n := range s.mru {
		if n == num {
			s.mru = append(s.mru[:i], s.mru[i+1:]...)
			break
		}
	}
	s.mru = append([]uint64{num}, s.mru...)
	if len(s.mru) > mruCacheSize {
		s.mru = s.mru[:mruCacheSize]
	}
}

// Warm reports whether num is among the most-recently-touched segments.
// Nothing in the package outside its tests consults it.
func (s *SegmentStore) Warm(num uint64) bool {
	for _, n := range s.mru {
		if n == num {
			return true
		}
	}
	return false
}
