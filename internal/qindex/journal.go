package qindex

import (
	"bufio"
	"fmt"
	"os"
)

// JournalFileName is the name of the append-only journal within a queue's
// directory (§6).
const JournalFileName = "journal.jif"

// Journal is the append-only log of every publish/deliver/ack the index has
// accepted since the last flush merged it into segment files (§4.4). It is
// the unit of fsync: Sync flushes the journal's os-level buffer, not the
// segment files, which is what lets publish/deliver/ack stay cheap.
type Journal struct {
	path    string
	f       *os.File
	w       *bufio.Writer
	dirty   bool // true once something has been written since the last Sync
	written int64
}

// OpenJournal opens (creating if necessary) the journal file at dir/journal.jif
// for appending.
func OpenJournal(dir string) (*Journal, error) {
	path := dir + string(os.PathSeparator) + JournalFileName
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("qindex: open journal %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("qindex: stat journal %s: %w", path, err)
	}
	return &Journal{path: path, f: f, w: bufio.NewWriter(f), written: fi.Size()}, nil
}

// ReadAllJournal decodes the journal's contents from the beginning and
// returns the entries in file order, stopping at the first corrupt or
// truncated record (§4.4, §6) rather than erroring —
// a journal tail is expected to be incomplete after a crash.
func ReadAllJournal(dir string) ([]JournalEntry, error) {
	path := dir + string(os.PathSeparator) + JournalFileName
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qindex: read journal %s: %w", path, err)
	}

	var entries []JournalEntry
	buf := data
	for len(buf) > 0 {
		e, n, ok, err := DecodeJournalEntry(buf)
		if err != nil {
			return nil, fmt.Errorf("qindex: decode journal %s: %w", path, err)
		}
		if !ok {
			break
		}
		entries = append(entries, e)
		buf = buf[n:]
	}
	return entries, nil
}

// Append writes one entry to the journal's buffer. Durability requires a
// following Sync; callers accumulate several appends (a batch of
// publish/deliver/ack calls from the queue process) before syncing, per the
// "needs_sync" half of §4.4/§4.6.
func (j *Journal) Append(e JournalEntry) error {
	buf := EncodeJournalEntry(e)
	if _, err := j.w.Write(buf); err != nil {
		return fmt.Errorf("qindex: append journal %s: %w", j.path, err)
	}
	j.dirty = true
	j.written += int64(len(buf))
	return nil
}

// NeedsSync reports whether any entry has been appended since the last Sync.
func (j *Journal) NeedsSync() bool {
	return j.dirty
}

// Sync flushes the journal's write buffer and fsyncs the file so every
// entry appended so far survives a crash.
func (j *Journal) Sync() error {
	if !j.dirty {
		return nil
	}
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("qindex: flush journal %s: %w", j.path, err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("qindex: fsync journal %s: %w", j.path, err)
	}
	j.dirty = false
	return nil
}

// Truncate resets the journal to empty and clears any pending-sync state —
// used after a flush has merged every journal entry into segment files
// (§4.4: "flush ... then truncates the journal").
func (j *Journal) Truncate() error {
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("qindex: flush journal %s before truncate: %w", j.path, err)
	}
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("qindex: truncate journal %s: %w", j.path, err)
	}
	if _, err := j.f.Seek(0, 0); err != nil {
		return fmt.Errorf("qindex: seek journal %s: %w", j.path, err)
	}
	j.w.Reset(j.f)
	j.written = 0
	j.dirty = false
	return nil
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	if err := j.Sync(); err != nil {
		return err
	}
	return j.f.Close()
}

// Size reports the journal's current length in bytes, used by callers that
// decide when a journal has grown large enough to warrant an unsolicited
// flush (§4.6 / §5 resource model).
func (j *Journal) Size() int64 {
	return j.written
}

// applyJournalEntry folds one journal entry onto a segment's in-memory
// overlay, implementing the add_to_journal transition table (§4.4) exactly:
//
//	existing overlay slot   action     new slot
//	empty                    publish P  (P, no_del, no_ack)
//	empty                    deliver    (no_pub, del, no_ack)
//	empty                    ack        (no_pub, no_del, ack)
//	(P, no_del, no_ack)      deliver    (P, del, no_ack)
//	(no_pub, del, no_ack)    ack        (no_pub, del, ack)
//	(P, del, no_ack)         ack        empty (slot reset)
//
// Any other (existing, action) pairing is a programmer error (§4.4, §7).
//
// The "empty" starting state for deliver and ack is not a rare edge case:
// it is what every slot looks like once its publish has already been
// flushed to a segment file and the overlay cleared (§4.3) — the overlay
// only ever needs to carry the *delta* relative to whatever segment_plus_
// journal will find on disk, never a verbatim copy of already-flushed
// state. Treating "no overlay entry" as "never published" here would be
// wrong; that distinction is exactly what segment_plus_journal (merge.go)
// resolves at flush/recovery time.
//
// The "(P, del, no_ack) + ack -> empty" rule applies regardless of
// is_persistent: it is why a message whose entire pub/del/ack lifecycle
// happens between two flushes — transient or persistent — leaves no
// overlay entry, and therefore nothing, in the segment file (§4.3).
func applyJournalEntry(overlay map[uint32]*Entry, rel uint32, e JournalEntry) {
	cur := overlay[rel]

	switch e.Kind {
	case JournalPublishPersistent, JournalPublishTransient:
		if cur != nil && !cur.IsEmpty() {
			panicProgrammerError("publish: seq already has overlay state", e.Seq)
		}
		overlay[rel] = &Entry{Pub: e.Pub}

	case JournalDeliver:
		switch {
		case cur == nil || cur.IsEmpty():
			overlay[rel] = &Entry{Delivered: true}
		case cur.Pub != nil && !cur.Delivered && !cur.Acked:
			cur.Delivered = true
		default:
			panicProgrammerError("deliver: illegal overlay transition", e.Seq)
		}

	case JournalAck:
		switch {
		case cur == nil || cur.IsEmpty():
			overlay[rel] = &Entry{Acked: true}
		case cur.Pub == nil && cur.Delivered && !cur.Acked:
			cur.Acked = true
		case cur.Pub != nil && cur.Delivered && !cur.Acked:
			delete(overlay, rel)
		default:
			panicProgrammerError("ack: illegal overlay transition", e.Seq)
		}
	}
}
