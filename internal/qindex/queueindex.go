package qindex

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// recoveryCleanKey is the terms field set to true only when Terminate ran
// to completion — its presence (or absence) is what distinguishes a clean
// shutdown from a dirty one on the next Recover (§4.6).
const recoveryCleanKey = "clean_shutdown"

// DefaultMaxJournalEntries is the threshold a fresh QueueIndex starts with
// before maybeFlushJournal forces an implicit flush (§4.6, §8 S5) — "around
// a few thousand" per §6's configuration note. Callers that load their own
// operator configuration should set it via SetMaxJournalEntries.
const DefaultMaxJournalEntries = 4096

// QueueIndex is the public state machine of a single queue's persistent
// index (§4.6): the journal, the set of materialized segments, and the two
// external collaborators it consults during recovery. All mutating methods
// assume single-writer use — the owning queue process serializes its own
// calls, exactly as the journal and segment files assume a single writer.
type QueueIndex struct {
	dir      string
	journal  *Journal
	segments *SegmentStore
	msgStore MessageStore
	terms    RecoveryTerms
	metrics  Metrics
	syncer   Syncer

	// unconfirmed/unconfirmedMsg are the msg-ids of needs_confirming
	// publishes awaiting their first post-publish journal fsync (§3, I5):
	// unconfirmed for bodies that live in the external message store,
	// unconfirmedMsg for bodies embedded directly in the index. Sync and
	// Flush drain both into the Syncer and clear them only once the journal
	// fsync they just performed has actually returned successfully.
	unconfirmed    map[[16]byte]struct{}
	unconfirmedMsg map[[16]byte]struct{}

	// dirtyCount is the number of journal entries appended since the last
	// flush (§4.6's "dirty_count"). maybeFlushJournal compares it against
	// maxJournalEntries after every publish/deliver/ack.
	dirtyCount        int
	maxJournalEntries int

	// highWaterMark is the highest segment number ever touched, tracked
	// separately from qi.segments.Keys() because I3 lets a fully-acked
	// segment's in-memory entry be dropped on flush — Bounds' "next" must
	// still report past it (§4.6, §8 P1/S2).
	highWaterMark uint64
	sawSegment    bool
}

// SetMaxJournalEntries overrides the implicit-flush threshold (§6's
// queue_index_max_journal_entries) for an already-open index. n < 1 is
// treated as 1, since a threshold of zero would force a flush after every
// single operation and a negative one makes no sense.
func (qi *QueueIndex) SetMaxJournalEntries(n int) {
	if n < 1 {
		n = 1
	}
	qi.maxJournalEntries = n
}

// maybeFlushJournal implements §4.6's maybe_flush_journal: the mutating
// call that pushes dirtyCount past the configured threshold ends by forcing
// a full flush (draining every segment's overlay to disk and truncating the
// journal) instead of waiting for the owning queue process to ask for one
// explicitly.
func (qi *QueueIndex) maybeFlushJournal() error {
	if qi.dirtyCount <= qi.maxJournalEntries {
		return nil
	}
	return qi.Flush()
}

// Init creates a brand-new, empty queue index rooted at dir. It is an error
// for dir to already exist (§7: ErrDirExists) — callers that want to reuse
// a directory should call Recover instead.
//
// syncer receives the msg-ids of needs_confirming publishes once their
// journal entry is durably fsync'd (§3, §4.6, I5); nil is valid for callers
// that never publish through the returned index.
func Init(dir string, msgStore MessageStore, terms RecoveryTerms, syncer Syncer) (*QueueIndex, error) {
	if _, err := os.Stat(dir); err == nil {
		return nil, ErrDirExists
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("qindex: stat %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("qindex: mkdir %s: %w", dir, err)
	}
	j, err := OpenJournal(dir)
	if err != nil {
		return nil, err
	}
	return &QueueIndex{
		dir:               dir,
		journal:           j,
		segments:          NewSegmentStore(dir),
		msgStore:          msgStore,
		terms:             terms,
		syncer:            syncer,
		unconfirmed:       make(map[[16]byte]struct{}),
		unconfirmedMsg:    make(map[[16]byte]struct{}),
		maxJournalEntries: DefaultMaxJournalEntries,
	}, nil
}

// Recover opens an existing queue directory and replays it back into memory,
// returning the index along with every message that is published but not
// yet acked, ordered by ascending sequence id — the set the owning queue
// process needs to rebuild its own delivery-order structures (§4.6).
//
// The recovery policy follows the table in §4.6:
//
//	recovery terms present, msg store cleanly recovered  -> clean path:
//	    trust segment files as-is, replay only the journal entries
//	    journal_minus_segment reports as still outstanding.
//	recovery terms absent, OR msg store not cleanly recovered -> dirty
//	    path: re-derive everything by scanning every segment file plus the
//	    full journal and merging, since any flush in flight at crash time
//	    cannot be trusted to have completed.
//
// Either way the terms are erased once the segment files and journal have
// been read back: a fresh, correct clean marker is written only once
// Terminate next runs to completion.
//
// syncer receives the msg-ids of needs_confirming publishes once their
// journal entry is durably fsync'd (§3, §4.6, I5); nil is valid for callers
// that never publish through the returned index.
func Recover(dir string, msgStoreCleanlyRecovered bool, msgStore MessageStore, terms RecoveryTerms, syncer Syncer) (*QueueIndex, []Message, error) {
	dirName := filepath.Base(dir)
	storedTerms, found, err := terms.Read(dirName)
	if err != nil {
		return nil, nil, fmt.Errorf("qindex: read recovery terms for %s: %w", dirName, err)
	}
	clean := found && msgStoreCleanlyRecovered && isCleanShutdown(storedTerms)
	if !msgStoreCleanlyRecovered && found {
		// Recovery terms exist but the message store disagrees about
		// its own cleanliness: fall back to the dirty path. No error is
		// reported for this.
		clean = false
	}

	// Clean-path fast seed (§4.6): the per-segment unacked counts Terminate
	// persisted let the clean path skip recomputing unacked from scratch for
	// every segment it already knows about.
	var cleanUnackedBySeg map[uint64]int
	if clean {
		cleanUnackedBySeg = parseSegmentUnackedTerms(storedTerms)
	}

	j, err := OpenJournal(dir)
	if err != nil {
		return nil, nil, err
	}
	store := NewSegmentStore(dir)

	journalEntries, err := ReadAllJournal(dir)
	if err != nil {
		return nil, nil, err
	}

	segNums, err := discoverSegmentFiles(dir)
	if err != nil {
		return nil, nil, err
	}

	bySeg := make(map[uint64][]JournalEntry)
	for _, e := range journalEntries {
		seg := e.Seq.Segment()
		bySeg[seg] = append(bySeg[seg], e)
		segNums[seg] = struct{}{}
	}

	for seg := range segNums {
		st := store.FindOrCreate(seg)
		onDisk, err := LoadSegmentFile(st.Path, true)
		if err != nil {
			return nil, nil, err
		}

		entries := bySeg[seg]
		if !clean {
			// Dirty path: every journal entry for this segment is
			// replayed on top of whatever the file already has,
			// since we can't trust that a partial flush didn't
			// already touch the file.
		} else {
			entries = JournalMinusSegment(entries, onDisk)
		}

		overlay := make(map[uint32]*Entry)
		for _, e := range entries {
			applyJournalEntry(overlay, e.Seq.Rel(), e)
		}

		merged := SegmentPlusJournal(onDisk, overlay)
		if !clean {
			// Dirty-path-only recovery policy (§4.6): for every
			// published, not-yet-acked slot, ask the message store
			// whether it still has the body. A message the store no
			// longer recognizes can never be served again, so it is
			// synthesized as delivered-and-acked right here rather
			// than left to confuse the owning queue process; one the
			// store still has is conservatively marked delivered (we
			// cannot tell whether delivery happened before the crash,
			// and redelivering is safe where losing it is not).
			if _, err := applyRecoveryPolicy(merged, msgStore.Contains); err != nil {
				return nil, nil, err
			}
		}
		st.Overlay = merged
		if n, ok := cleanUnackedBySeg[seg]; ok {
			st.Unacked = n
		} else {
			st.Unacked = countUnacked(merged)
		}
	}

	qi := &QueueIndex{
		dir:               dir,
		journal:           j,
		segments:          store,
		msgStore:          msgStore,
		terms:             terms,
		syncer:            syncer,
		unconfirmed:       make(map[[16]byte]struct{}),
		unconfirmedMsg:    make(map[[16]byte]struct{}),
		maxJournalEntries: DefaultMaxJournalEntries,
		dirtyCount:        len(journalEntries),
	}
	for seg := range segNums {
		qi.touchHighWaterMark(seg)
	}

	if err := terms.Erase(dirName); err != nil {
		return nil, nil, fmt.Errorf("qindex: erase recovery terms for %s: %w", dirName, err)
	}

	// The unacked set is collected from the recovered overlays before any
	// implicit flush below resets them.
	msgs, err := qi.collectUnacked()
	if err != nil {
		return nil, nil, err
	}

	// §4.6: "Then maybe_flush_journal" — a directory recovered with a
	// journal already over threshold (e.g. a crash right before the queue
	// process would have flushed) gets drained immediately rather than
	// waiting for the first post-recovery publish/deliver/ack.
	if err := qi.maybeFlushJournal(); err != nil {
		return nil, nil, err
	}
	return qi, msgs, nil
}

func isCleanShutdown(terms map[string]any) bool {
	v, ok := terms[recoveryCleanKey]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// parseSegmentUnackedTerms decodes the segmentsTermKey value Terminate
// wrote back into a per-segment unacked-count map. RecoveryTerms
// implementations backed by an actual store round-trip the value through
// JSON, so it comes back as []any of map[string]any with float64 numbers
// rather than the native []SegmentUnacked Terminate wrote; handle both.
func parseSegmentUnackedTerms(terms map[string]any) map[uint64]int {
	raw, ok := terms[segmentsTermKey]
	if !ok {
		return nil
	}
	out := make(map[uint64]int)
	switch v := raw.(type) {
	case []SegmentUnacked:
		for _, su := range v {
			out[su.Seg] = su.Unacked
		}
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			seg, segOK := toUint64(m["Seg"])
			unacked, unackedOK := toInt(m["Unacked"])
			if segOK && unackedOK {
				out[seg] = unacked
			}
		}
	}
	return out
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case float64:
		return uint64(n), true
	case int:
		return uint64(n), true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}

func discoverSegmentFiles(dir string) (map[uint64]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[uint64]struct{}{}, nil
		}
		return nil, fmt.Errorf("qindex: readdir %s: %w", dir, err)
	}
	out := make(map[uint64]struct{})
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".idx" {
			continue
		}
		seg, err := parseSegmentNum(name[:len(name)-len(".idx")])
		if err != nil {
			continue // not one of ours; ignore
		}
		out[seg] = struct{}{}
	}
	return out, nil
}

func parseSegmentNum(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	var n uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not numeric: %q", s)
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}

// applyRecoveryPolicy folds the §4.6 recovery-policy table onto a merged
// segment view, using contains to decide whether each published slot's
// body can still be trusted. Only the dirty-path rows apply here: the
// clean-path ("clean_shutdown=true") rows are all "leave as-is", which is
// exactly what happens when this function is never called at all — the
// clean path skips it entirely in Recover.
//
//	contains   delivered   action
//	true        true        leave as-is
//	true        false       mark delivered
//	false       any         mark delivered and acked (message is gone;
//	                        stop offering it — matches S4's "contains=false"
//	                        case, which synthesizes a del+ack)
//
// An embedded body is always "contained" — the index carries it, so the
// external message store is never consulted for it (§1, §6).
func applyRecoveryPolicy(merged map[uint32]*Entry, contains func([16]byte) (bool, error)) (int, error) {
	touched := 0
	for _, e := range merged {
		if e.Pub == nil || e.Acked {
			continue
		}
		ok := true
		if !e.Pub.HasEmbeddedBody() {
			var err error
			ok, err = contains(e.Pub.MsgID)
			if err != nil {
				return touched, err
			}
		}
		switch {
		case ok && e.Delivered:
			// leave as-is
		case ok && !e.Delivered:
			e.Delivered = true
			touched++
		case !ok:
			e.Delivered = true
			e.Acked = true
			touched++
		}
	}
	return touched, nil
}

func countUnacked(entries map[uint32]*Entry) int {
	n := 0
	for _, e := range entries {
		if e.Pub != nil && !e.Acked {
			n++
		}
	}
	return n
}

// collectUnacked walks every materialized segment in order and returns its
// published-but-not-acked entries as Messages, ascending by sequence id.
func (qi *QueueIndex) collectUnacked() ([]Message, error) {
	var out []Message
	for _, seg := range qi.segments.Keys() {
		st, _ := qi.segments.Find(seg)
		for _, rel := range sortedRels(st.Overlay) {
			e := st.Overlay[rel]
			if e.Pub == nil || e.Acked {
				continue
			}
			out = append(out, toMessage(SeqOf(seg, rel), e))
		}
	}
	return out, nil
}

func toMessage(seq SeqId, e *Entry) Message {
	return Message{
		SeqId:        seq,
		MsgID:        e.Pub.MsgID,
		Embedded:     e.Pub.Embedded,
		Expiry:       e.Pub.Expiry,
		Size:         e.Pub.Size,
		IsPersistent: e.Pub.IsPersistent,
		IsDelivered:  e.Delivered,
	}
}

// Publish records a new message at seq (§4.2). It is a ProgrammerError
// (panic) to publish a seq that already has a pub recorded in its segment's
// overlay — the owning queue process is responsible for assigning each seq
// exactly once.
//
// If props.NeedsConfirming, pub's msg-id is added to the unconfirmed set
// appropriate to how its body is stored — unconfirmedMsg when embedded in
// the index, unconfirmed otherwise — and held there until the next
// successful Sync or Flush hands it to the Syncer (§3, §4.6, I5).
func (qi *QueueIndex) Publish(seq SeqId, pub *PubRecord, props PublishProps) error {
	kind := JournalPublishTransient
	if pub.IsPersistent {
		kind = JournalPublishPersistent
	}
	if err := qi.journal.Append(JournalEntry{Kind: kind, Seq: seq, Pub: pub}); err != nil {
		return err
	}
	st := qi.segments.FindOrCreate(seq.Segment())
	applyJournalEntry(st.Overlay, seq.Rel(), JournalEntry{Kind: kind, Seq: seq, Pub: pub})
	st.Unacked++
	qi.touchHighWaterMark(seq.Segment())
	if props.NeedsConfirming {
		if pub.HasEmbeddedBody() {
			qi.unconfirmedMsg[pub.MsgID] = struct{}{}
		} else {
			qi.unconfirmed[pub.MsgID] = struct{}{}
		}
	}
	qi.observePublish(pub.IsPersistent)
	qi.dirtyCount++
	return qi.maybeFlushJournal()
}

// Deliver marks seq as delivered (§4.2). ProgrammerError if seq was never
// published or was already delivered.
func (qi *QueueIndex) Deliver(seq SeqId) error {
	if err := qi.journal.Append(JournalEntry{Kind: JournalDeliver, Seq: seq}); err != nil {
		return err
	}
	st := qi.segments.FindOrCreate(seq.Segment())
	applyJournalEntry(st.Overlay, seq.Rel(), JournalEntry{Kind: JournalDeliver, Seq: seq})
	qi.observeDeliver()
	qi.dirtyCount++
	return qi.maybeFlushJournal()
}

// Ack marks seq as acknowledged (§4.2). Persistent and transient messages
// are treated alike: the overlay either drops the slot outright or records
// the ack as a delta onto a publish already on disk, and the next flush
// erases the slot from its segment file. ProgrammerError if seq was
// never published/delivered or was already acked.
func (qi *QueueIndex) Ack(seq SeqId) error {
	if err := qi.journal.Append(JournalEntry{Kind: JournalAck, Seq: seq}); err != nil {
		return err
	}
	st := qi.segments.FindOrCreate(seq.Segment())
	// The overlay may already have been flushed to disk, in which case
	// its pub state is gone from the overlay by the time we get here;
	// persistence then defaults to false for metrics purposes only — it
	// never affects the actual ack transition, which needs no such flag.
	persistent := false
	if cur := st.Overlay[seq.Rel()]; cur != nil && cur.Pub != nil {
		persistent = cur.Pub.IsPersistent
	}
	applyJournalEntry(st.Overlay, seq.Rel(), JournalEntry{Kind: JournalAck, Seq: seq})
	if st.Unacked > 0 {
		st.Unacked--
	}
	qi.observeAck(persistent)
	qi.dirtyCount++
	return qi.maybeFlushJournal()
}

// Read returns the published record at seq, or ErrSeqNotFound if nothing
// has been published there (whether because it was never published or
// because it has since been acked).
//
// It always merges the segment's on-disk image with its overlay via
// SegmentPlusJournal (§4.5) rather than trusting either alone: the
// overlay frequently holds only a delta (e.g. a deliver or ack for a
// publish that already made it to disk in an earlier flush, per §4.4's
// "empty + deliver/ack" transitions), so looking at the overlay in
// isolation would under-report delivered/acked state, and looking at the
// on-disk file in isolation would miss anything published since the last
// flush.
func (qi *QueueIndex) Read(seq SeqId) (*Message, error) {
	merged, err := qi.mergedSegment(seq.Segment())
	if err != nil {
		return nil, err
	}
	e, found := merged[seq.Rel()]
	if !found || e.Pub == nil {
		return nil, ErrSeqNotFound
	}
	m := toMessage(seq, e)
	return &m, nil
}

// ReadRange returns every published, not-yet-acked message in the
// half-open range [start, end), ascending by sequence id (§4.6, §8 P4).
// It is the batch counterpart of Read, covering every segment the range
// touches in a single merge pass per segment.
func (qi *QueueIndex) ReadRange(start, end SeqId) ([]Message, error) {
	if end <= start {
		return nil, nil
	}
	var out []Message
	last := end - 1
	for seg := start.Segment(); seg <= last.Segment(); seg++ {
		merged, err := qi.mergedSegment(seg)
		if err != nil {
			return nil, err
		}
		for _, rel := range sortedRels(merged) {
			seq := SeqOf(seg, rel)
			if seq < start || seq >= end {
				continue
			}
			e := merged[rel]
			if e.Pub == nil || e.Acked {
				continue
			}
			out = append(out, toMessage(seq, e))
		}
	}
	return out, nil
}

// mergedSegment loads segment num's on-disk image and folds its overlay
// onto it via SegmentPlusJournal, without mutating the live overlay.
func (qi *QueueIndex) mergedSegment(num uint64) (map[uint32]*Entry, error) {
	st := qi.segments.FindOrCreate(num)
	onDisk, err := LoadSegmentFile(st.Path, true)
	if err != nil {
		return nil, err
	}
	return SegmentPlusJournal(onDisk, st.Overlay), nil
}

// touchHighWaterMark records seg as seen, so Bounds can keep reporting past
// it even after I3 lets qi.segments drop its in-memory entry once the
// segment empties out on flush.
func (qi *QueueIndex) touchHighWaterMark(seg uint64) {
	if !qi.sawSegment || seg > qi.highWaterMark {
		qi.highWaterMark = seg
		qi.sawSegment = true
	}
}

// Bounds reports the first sequence id of the lowest-numbered on-disk
// segment and the first sequence id past the highest segment number ever
// seen (§4.6) — the range the owning queue process should expect Read to
// answer for. Both are zero when the index is empty.
func (qi *QueueIndex) Bounds() (low, high uint64) {
	if !qi.sawSegment {
		return 0, 0
	}
	low = 0
	if keys := qi.segments.Keys(); len(keys) > 0 {
		low = keys[0] * SegmentEntryCount
	}
	return low, (qi.highWaterMark + 1) * SegmentEntryCount
}

// Stats is a cheap read-only snapshot of a queue index's current state,
// for operators and internal/metrics — answering "how many segments" and
// "how many messages are still outstanding" without walking any file.
type Stats struct {
	LowSeq       uint64
	NextSeq      uint64
	SegmentCount int
	Unacked      int
	JournalBytes int64
	DirtyCount   int
	NeedsSync    bool
}

// Stats returns a snapshot of qi's current in-memory state.
func (qi *QueueIndex) Stats() Stats {
	low, next := qi.Bounds()
	unacked := 0
	qi.segments.Map(func(st *SegmentState) { unacked += st.Unacked })
	return Stats{
		LowSeq:       low,
		NextSeq:      next,
		SegmentCount: qi.segments.Len(),
		Unacked:      unacked,
		JournalBytes: qi.journal.Size(),
		DirtyCount:   qi.dirtyCount,
		NeedsSync:    qi.NeedsSync() != SyncNone,
	}
}

// NeedsSync reports the §4.4 tri-state: SyncConfirms if either unconfirmed
// set is non-empty (a publisher is waiting on this sync), else SyncOther if
// the journal has buffered writes of its own, else SyncNone. The owning
// queue process polls this to decide whether an fsync is owed before it can
// safely ack a publisher.
func (qi *QueueIndex) NeedsSync() SyncStatus {
	if len(qi.unconfirmed) > 0 || len(qi.unconfirmedMsg) > 0 {
		return SyncConfirms
	}
	if qi.journal.NeedsSync() {
		return SyncOther
	}
	return SyncNone
}

// confirmSynced hands the Syncer every msg-id waiting on a journal fsync
// that just returned successfully, and clears both unconfirmed sets (§3,
// §4.6, I5). Called after every journal.Sync(), whether from an explicit
// Sync or an implicit Flush — either one durably confirms the same way.
func (qi *QueueIndex) confirmSynced() {
	if qi.syncer != nil {
		qi.syncer.OnSync(qi.unconfirmed)
		qi.syncer.OnSyncMsg(qi.unconfirmedMsg)
	}
	qi.unconfirmed = make(map[[16]byte]struct{})
	qi.unconfirmedMsg = make(map[[16]byte]struct{})
}

// Sync flushes and fsyncs the journal without touching segment files, then
// confirms every publish that was waiting on it (§3, §4.6, I5).
func (qi *QueueIndex) Sync() error {
	if err := qi.journal.Sync(); err != nil {
		return err
	}
	qi.observeSync()
	qi.confirmSynced()
	return nil
}

// Flush merges every segment's overlay into its on-disk file and truncates
// the journal (§4.4: "flush ... merges the journal into segments, then
// truncates it"). Segments left with no content at all after the merge —
// every slot emptied by an ack — have their files deleted outright
// rather than kept around as empty husks.
func (qi *QueueIndex) Flush() error {
	start := time.Now()
	err := qi.flush()
	qi.observeFlush(time.Since(start), err)
	return err
}

func (qi *QueueIndex) flush() error {
	if err := qi.journal.Sync(); err != nil {
		return err
	}
	qi.confirmSynced()

	var flushErr error
	qi.segments.Map(func(st *SegmentState) {
		if flushErr != nil || len(st.Overlay) == 0 {
			return
		}
		onDisk, err := LoadSegmentFile(st.Path, true)
		if err != nil {
			flushErr = err
			return
		}
		merged := SegmentPlusJournal(onDisk, st.Overlay)
		if len(merged) == 0 {
			if err := DeleteSegmentFile(st.Path); err != nil {
				flushErr = err
				return
			}
			// I3: an emptied segment — every slot acked away — is
			// dropped from the live map outright
			// rather than kept as an empty husk. Bounds' high-water
			// mark (touchHighWaterMark) is what keeps NextSeq from
			// regressing once this segment number is gone from
			// qi.segments.Keys().
			qi.segments.Delete(st.Num)
			return
		} else if err := WriteSegmentFile(st.Path, merged); err != nil {
			flushErr = err
			return
		}
		st.Overlay = make(map[uint32]*Entry)
		st.Unacked = countUnacked(merged)
	})
	if flushErr != nil {
		return flushErr
	}

	if err := qi.journal.Truncate(); err != nil {
		return err
	}
	qi.dirtyCount = 0
	return nil
}

// segmentsTermKey is the "segments" key from §6: the per-segment unacked
// counts persisted at Terminate so a subsequent clean Recover need not
// rescan every segment file to know how much outstanding work there is.
const segmentsTermKey = "segments"

// SegmentUnacked is one entry of the "segments" recovery-terms value
// (§6): a segment number and its unacked count as of the last Terminate.
type SegmentUnacked struct {
	Seg     uint64
	Unacked int
}

// Terminate flushes all pending state and, when overallCleanShutdown is
// true, records a clean-shutdown marker plus the per-segment unacked
// counts in the recovery terms so the next Recover can take the fast
// path (§4.6). extraTerms is opaque caller state preserved verbatim
// alongside the index's own keys (§6); it may be nil. Terminate does not
// remove the queue directory; its Flush still deletes any segment file
// left empty.
func (qi *QueueIndex) Terminate(overallCleanShutdown bool, extraTerms map[string]any) error {
	if err := qi.Flush(); err != nil {
		return err
	}
	if err := qi.journal.Close(); err != nil {
		return err
	}
	if !overallCleanShutdown {
		return nil
	}

	terms := make(map[string]any, len(extraTerms)+2)
	for k, v := range extraTerms {
		terms[k] = v
	}
	terms[recoveryCleanKey] = true

	var segs []SegmentUnacked
	qi.segments.Map(func(st *SegmentState) {
		segs = append(segs, SegmentUnacked{Seg: st.Num, Unacked: st.Unacked})
	})
	terms[segmentsTermKey] = segs

	return qi.terms.Write(filepath.Base(qi.dir), terms)
}

// DeleteAndTerminate closes the index and removes its entire on-disk
// directory — used when the owning queue itself is being deleted, not just
// restarted (§4.6).
func (qi *QueueIndex) DeleteAndTerminate() error {
	_ = qi.journal.Close() // best-effort: we're about to delete the file anyway
	if err := qi.terms.Erase(filepath.Base(qi.dir)); err != nil {
		return fmt.Errorf("qindex: erase recovery terms for %s: %w", qi.dir, err)
	}
	if err := os.RemoveAll(qi.dir); err != nil {
		return fmt.Errorf("qindex: remove %s: %w", qi.dir, err)
	}
	return nil
}

// Erase removes a queue's on-disk directory without requiring it to be
// open first — the counterpart the start-up walker (internal/walker) uses
// to reap orphaned queue directories that belong to no known queue.
func Erase(dir string, terms RecoveryTerms) error {
	if err := terms.Erase(filepath.Base(dir)); err != nil {
		return fmt.Errorf("qindex: erase recovery terms for %s: %w", dir, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("qindex: remove %s: %w", dir, err)
	}
	return nil
}
