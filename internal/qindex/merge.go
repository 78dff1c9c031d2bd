package qindex

// Merge implements the two set operations from §4.5, used by recovery
// (both) and by flush and read (segment_plus_journal):
// segment_plus_journal (what a segment's final on-disk state should be once
// a pending overlay is folded in) and journal_minus_segment (which journal
// entries are still "new" relative to what a segment file already records,
// so that replaying a journal whose tail survived a flush doesn't double-
// apply work the segment file already reflects).

// SegmentPlusJournal merges an overlay (journal entries already applied via
// applyJournalEntry, keyed by rel) onto a segment's on-disk entries,
// producing the entry set a flush should write out. The overlay holds only
// the *delta* since the segment was last written (§4.4), so each slot is
// combined with whatever is already on disk rather than replacing it
// outright — §4.5's table:
//
//	undefined          + (P, no_del, no_ack)   -> (P, no_del, no_ack)
//	undefined          + (P, del, no_ack)      -> (P, del, no_ack)
//	undefined          + (P, del, ack)         -> erase
//	(P, no_del, no_ack) + (no_pub, del, no_ack) -> (P, del, no_ack)
//	(P, no_del, no_ack) + (no_pub, del, ack)    -> erase
//	(P, del, no_ack)    + (no_pub, no_del, ack) -> erase
//
// All other (on-disk, overlay) pairings are unreachable given I1 and the
// §4.4 transition table. The returned map is a fresh copy; neither input is
// mutated.
func SegmentPlusJournal(onDisk, overlay map[uint32]*Entry) map[uint32]*Entry {
	out := make(map[uint32]*Entry, len(onDisk)+len(overlay))
	for rel, e := range onDisk {
		out[rel] = e.Clone()
	}
	for rel, delta := range overlay {
		if delta.IsEmpty() {
			delete(out, rel)
			continue
		}
		existing := out[rel]
		switch {
		case delta.Pub != nil:
			// undefined + (P, ·, ·): the overlay carries the publish in
			// full because the slot was never on disk.
			if delta.Acked {
				delete(out, rel)
			} else {
				out[rel] = delta.Clone()
			}
		case existing != nil && existing.Pub != nil && !existing.Delivered:
			// (P, no_del, no_ack) + delta
			if delta.Acked {
				delete(out, rel)
			} else if delta.Delivered {
				merged := existing.Clone()
				merged.Delivered = true
				out[rel] = merged
			}
		case existing != nil && existing.Pub != nil && existing.Delivered && !existing.Acked:
			// (P, del, no_ack) + (no_pub, no_del, ack)
			if delta.Acked {
				delete(out, rel)
			}
		}
	}
	return out
}

// JournalMinusSegment filters a sequence of decoded journal entries down to
// the ones that still need to be replayed onto a segment's on-disk state,
// given that segment files are always flushed strictly before the journal
// entries that produced them are truncated (§4.4, §4.6): if a crash happens
// between the two, the journal can contain entries whose effect the
// segment file already has.
//
// The rule mirrors the original's entry-shape comparison: a publish is
// redundant if the slot is already present on disk; a deliver is redundant
// if the on-disk slot is already marked delivered; an ack is redundant if
// the on-disk slot is already marked acked, OR if the slot is simply absent
// (meaning a prior flush already erased it once its ack completed it, per
// SegmentPlusJournal's erase rows, or it was never published on disk).
func JournalMinusSegment(entries []JournalEntry, onDisk map[uint32]*Entry) []JournalEntry {
	out := make([]JournalEntry, 0, len(entries))
	for _, e := range entries {
		rel := e.Seq.Rel()
		existing := onDisk[rel]

		switch e.Kind {
		case JournalPublishPersistent, JournalPublishTransient:
			if existing != nil && existing.Pub != nil {
				continue // already on disk
			}
		case JournalDeliver:
			if existing != nil && existing.Delivered {
				continue
			}
		case JournalAck:
			if existing == nil {
				continue // already flushed-and-dropped or never published on disk
			}
			if existing.Acked {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
