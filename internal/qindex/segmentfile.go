package qindex

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LoadSegmentFile reads a segment's on-disk image from path and returns the
// per-rel entries it contains (§4.3). Deliver/Ack records are folded onto
// whatever Publish came before them for the same rel; a Deliver-or-Ack
// record seen before any Publish for its rel is a corrupt file.
//
// keepAcked controls whether fully-acked slots (pub+delivered+acked) are
// retained in the result (true) or dropped (false). Every caller in this
// package passes true; acked slots leave a rewritten file because
// SegmentPlusJournal erases them before WriteSegmentFile runs.
//
// A missing file is not an error: it is treated the same as an empty one,
// since a segment with no flushed overlay yet may have no file at all.
func LoadSegmentFile(path string, keepAcked bool) (map[uint32]*Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[uint32]*Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qindex: open segment %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("qindex: read segment %s: %w", path, err)
	}

	out := make(map[uint32]*Entry)
	buf := data
	for len(buf) > 0 {
		rec, n, ok, err := DecodeSegRecord(buf)
		if err != nil {
			return nil, fmt.Errorf("qindex: decode segment %s: %w", path, err)
		}
		if !ok {
			break // truncated tail or zero-pad run: stop, keep what we have
		}
		buf = buf[n:]

		switch rec.Kind {
		case SegPublish:
			out[rec.Rel] = &Entry{Pub: rec.Pub}
		case SegDeliverAck:
			e, seen := out[rec.Rel]
			if !seen || e.Pub == nil {
				return nil, fmt.Errorf("%w: %s: deliver/ack before publish at rel %d", ErrCorruptRecord, path, rec.Rel)
			}
			if !e.Delivered {
				e.Delivered = true
			} else {
				e.Acked = true
			}
		}
	}

	if !keepAcked {
		for rel, e := range out {
			if e.Acked {
				delete(out, rel)
			}
		}
	}
	return out, nil
}

// WriteSegmentFile rewrites a segment's on-disk image from scratch with the
// given entries (§4.3's append_overlay: the journal's overlay for this
// segment, merged onto whatever was already on disk, is written out as a
// single fresh file — not appended to the stale one — so that acked slots
// can be dropped and the file never grows without bound). Entries are
// written in ascending rel order for a deterministic, diffable image.
//
// The write goes to a temp file in the same directory and is renamed into
// place, so a crash mid-write leaves the previous image (or no image)
// rather than a half-written one.
func WriteSegmentFile(path string, entries map[uint32]*Entry) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".segtmp-*")
	if err != nil {
		return fmt.Errorf("qindex: create temp segment in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	for _, rel := range sortedRels(entries) {
		e := entries[rel]
		if e.IsEmpty() {
			continue
		}
		if e.Pub != nil {
			if _, err := w.Write(EncodeSegPublish(rel, e.Pub)); err != nil {
				tmp.Close()
				return fmt.Errorf("qindex: write segment %s: %w", path, err)
			}
		}
		if e.Delivered {
			if _, err := w.Write(EncodeSegDeliverOrAck(rel)); err != nil {
				tmp.Close()
				return fmt.Errorf("qindex: write segment %s: %w", path, err)
			}
		}
		if e.Acked {
			if _, err := w.Write(EncodeSegDeliverOrAck(rel)); err != nil {
				tmp.Close()
				return fmt.Errorf("qindex: write segment %s: %w", path, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("qindex: flush segment %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("qindex: fsync segment %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("qindex: close segment %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("qindex: rename segment %s: %w", path, err)
	}
	return nil
}

// DeleteSegmentFile removes a segment's on-disk image. Missing is not an
// error: a segment that never flushed has nothing to delete.
func DeleteSegmentFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("qindex: delete segment %s: %w", path, err)
	}
	return nil
}

func sortedRels(entries map[uint32]*Entry) []uint32 {
	out := make([]uint32, 0, len(entries))
	for rel := range entries {
		out = append(out, rel)
	}
	// insertion sort: at most SegmentEntryCount items, and this runs once
	// per segment written or read, not per record.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
