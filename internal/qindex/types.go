// Package qindex implements the per-queue persistent index of a durable
// message broker: the append-only journal plus segmented index file format
// that records the publish/deliver/ack lifecycle of every message a queue
// has handled, and the algorithms that keep it crash-safe.
//
// The package deliberately knows nothing about AMQP, clustering, or the
// queue process that decides *when* to publish/deliver/ack — those are
// external collaborators (see MessageStore, RecoveryTerms).
package qindex

import (
	"errors"
	"fmt"
)

// SeqId is the 62-bit non-negative sequence id a queue assigns to each
// message it handles. Monotonic within a queue, but not necessarily
// contiguous — the index accepts arbitrary sparse ids.
type SeqId uint64

const (
	// SegmentEntryCount is the number of consecutive sequence ids a single
	// segment file covers (§3).
	SegmentEntryCount = 16384

	// segmentRelBits is log2(SegmentEntryCount); rel = seq & (SegmentEntryCount-1).
	segmentRelBits = 14
	segmentRelMask = SegmentEntryCount - 1
)

// Segment returns the segment number that owns seq.
func (s SeqId) Segment() uint64 {
	return uint64(s) / SegmentEntryCount
}

// Rel returns the 14-bit relative sequence of seq within its segment.
func (s SeqId) Rel() uint32 {
	return uint32(uint64(s) & segmentRelMask)
}

// SeqOf reconstructs a SeqId from a segment number and relative offset.
func SeqOf(seg uint64, rel uint32) SeqId {
	return SeqId(seg*SegmentEntryCount + uint64(rel))
}

// NextSegmentBoundary returns the first sequence id past the segment that
// owns seq — i.e. (seq/SegmentEntryCount + 1) * SegmentEntryCount.
func NextSegmentBoundary(seq SeqId) SeqId {
	return SeqId((seq.Segment() + 1) * SegmentEntryCount)
}

// PubRecord is the payload of a publish: everything the queue needs to hand
// the message back to its owner on read, short of looking it up in the
// external message store.
type PubRecord struct {
	IsPersistent bool
	MsgID        [16]byte
	Expiry       uint64 // 0 = no expiry
	Size         uint32 // size of the message body in the message store
	Embedded     []byte // non-nil when the body is embedded in the index itself
}

// HasEmbeddedBody reports whether the publish carries its own body rather
// than deferring to the external message store.
func (p *PubRecord) HasEmbeddedBody() bool {
	return p != nil && len(p.Embedded) > 0
}

// PublishProps carries the publish-time flags Publish needs but that are
// not part of the durable record itself (§4.6's "props").
type PublishProps struct {
	// NeedsConfirming routes the publish's msg-id into the index's
	// unconfirmed set, to be handed to the Syncer once the journal entry
	// this publish appended is durably fsync'd (§3, §4.6, I5).
	NeedsConfirming bool
}

// SyncStatus is the tri-state NeedsSync reports (§4.4): whether a sync is
// owed because there are publisher confirms pending, merely because the
// journal has buffered but non-confirming writes, or not at all.
type SyncStatus int

const (
	// SyncNone means the journal has nothing unsynced and there is
	// nothing awaiting confirmation.
	SyncNone SyncStatus = iota
	// SyncOther means the journal has buffered writes but none of them
	// are needs_confirming publishes.
	SyncOther
	// SyncConfirms means at least one needs_confirming publish is still
	// waiting for its fsync — a sync owed to unblock a publisher confirm.
	SyncConfirms
)

func (s SyncStatus) String() string {
	switch s {
	case SyncConfirms:
		return "confirms"
	case SyncOther:
		return "other"
	default:
		return "false"
	}
}

// Entry is the tri-state record for one sequence slot (§3): a publish
// component, a delivered flag, and an acked flag. The reachable
// combinations are exactly the six listed in spec §3; Entry itself does not
// enforce that — callers go through applyJournalEntry (journal.go) or the
// merge functions (merge.go), which do.
type Entry struct {
	Pub       *PubRecord // nil == no_pub
	Delivered bool
	Acked     bool
}

// IsEmpty reports whether the entry carries no information at all (the
// state a slot returns to after its message is fully acked).
func (e *Entry) IsEmpty() bool {
	return e == nil || (e.Pub == nil && !e.Delivered && !e.Acked)
}

// Clone returns a deep copy so callers can hand out a merged view without
// letting the caller mutate a segment's or the overlay's own state.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := &Entry{Delivered: e.Delivered, Acked: e.Acked}
	if e.Pub != nil {
		p := *e.Pub
		if e.Pub.Embedded != nil {
			p.Embedded = append([]byte(nil), e.Pub.Embedded...)
		}
		out.Pub = &p
	}
	return out
}

// Message is what C6.read hands back to the caller for one published,
// not-yet-acked slot.
type Message struct {
	SeqId       SeqId
	MsgID       [16]byte
	Embedded    []byte
	Expiry      uint64
	Size        uint32
	IsPersistent bool
	IsDelivered bool
}

// Error taxonomy (spec §7).
var (
	// ErrCorruptRecord marks a journal or segment record whose framing is
	// inconsistent with the §4.1 grammar. Parsers stop at the first one;
	// everything read before it is retained.
	ErrCorruptRecord = errors.New("qindex: corrupt record")

	// ErrSeqNotFound is returned by Read for a slot that holds no published
	// record: never published, or already acked.
	ErrSeqNotFound = errors.New("qindex: sequence id not found")

	// ErrDirExists is returned by Init when a queue directory already
	// exists where a blank one was expected.
	ErrDirExists = errors.New("qindex: queue directory already exists")

	// ErrCleanShutdownMismatch means recovery terms exist but the message
	// store was not itself cleanly recovered (§4.6, §7). Recover does not
	// return it: it takes the dirty recovery path itself in that case.
	ErrCleanShutdownMismatch = errors.New("qindex: recovery terms present but message store not cleanly recovered")
)

// ProgrammerError is raised (via panic) for illegal state transitions: a
// duplicate publish of a seq-id, or an (existing, action) overlay
// combination the transition table in §4.4 does not define. Spec §7
// requires this to panic rather than return an error.
type ProgrammerError struct {
	Op  string
	Seq SeqId
}

func (e *ProgrammerError) Error() string {
	return fmt.Sprintf("qindex: programmer error: %s on seq %d", e.Op, e.Seq)
}

func panicProgrammerError(op string, seq SeqId) {
	panic(&ProgrammerError{Op: op, Seq: seq})
}
