package qindex

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeMessageStore and fakeRecoveryTerms are minimal in-memory stand-ins
// for the external collaborators, used so these tests can exercise
// Init/Recover/Terminate without a real bbolt-backed dependency.

type fakeMessageStore struct{ ids map[[16]byte]bool }

func newFakeMessageStore() *fakeMessageStore { return &fakeMessageStore{ids: map[[16]byte]bool{}} }

func (f *fakeMessageStore) Contains(msgID [16]byte) (bool, error) { return f.ids[msgID], nil }

type fakeRecoveryTerms struct{ data map[string]map[string]any }

func newFakeRecoveryTerms() *fakeRecoveryTerms {
	return &fakeRecoveryTerms{data: map[string]map[string]any{}}
}

func (f *fakeRecoveryTerms) Read(dirName string) (map[string]any, bool, error) {
	terms, ok := f.data[dirName]
	return terms, ok, nil
}

func (f *fakeRecoveryTerms) Write(dirName string, terms map[string]any) error {
	f.data[dirName] = terms
	return nil
}

func (f *fakeRecoveryTerms) Erase(dirName string) error {
	delete(f.data, dirName)
	return nil
}

func mustMsgID(s string) [16]byte {
	var out [16]byte
	copy(out[:], s)
	return out
}

// TestMaybeFlushJournalTriggersImplicitFlush is scenario S5: the mutating
// call that pushes dirty_count past max_journal_entries forces an implicit
// flush — dirty_count returns to 0 and the journal file is
// truncated — without the caller ever calling Flush itself.
func TestMaybeFlushJournalTriggersImplicitFlush(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	msgStore := newFakeMessageStore()
	terms := newFakeRecoveryTerms()

	qi, err := Init(dir, msgStore, terms, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	qi.SetMaxJournalEntries(3)

	for i := 0; i < 4; i++ {
		if err := qi.Publish(SeqId(i), &PubRecord{IsPersistent: true, MsgID: mustMsgID("m")}, PublishProps{}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	stats := qi.Stats()
	if stats.DirtyCount != 0 {
		t.Fatalf("expected dirty_count to reset to 0 after implicit flush, got %d", stats.DirtyCount)
	}
	if stats.JournalBytes != 0 {
		t.Fatalf("expected journal truncated to zero bytes after implicit flush, got %d", stats.JournalBytes)
	}
	if stats.NeedsSync {
		t.Fatalf("expected journal to be clean after implicit flush")
	}

	segPath := filepath.Join(dir, "0.idx")
	if _, err := os.Stat(segPath); err != nil {
		t.Fatalf("expected segment file to exist after implicit flush: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := qi.Read(SeqId(i)); err != nil {
			t.Fatalf("read %d after implicit flush: %v", i, err)
		}
	}
}

func TestInitRejectsExistingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	msgStore := newFakeMessageStore()
	terms := newFakeRecoveryTerms()

	if _, err := Init(dir, msgStore, terms, nil); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := Init(dir, msgStore, terms, nil); err != ErrDirExists {
		t.Fatalf("second Init: got %v, want ErrDirExists", err)
	}
}

func TestPublishDeliverAckRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	pub := &PubRecord{IsPersistent: true, Expiry: 0, Size: 5}
	pub.MsgID = mustMsgID("msg-0000000000001")

	if err := qi.Publish(1, pub, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := qi.Deliver(1); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	msg, err := qi.Read(1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !msg.IsDelivered || msg.MsgID != pub.MsgID {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if err := qi.Ack(1); err != nil {
		t.Fatalf("ack: %v", err)
	}
	// The entire pub/del/ack lifecycle happened inside the overlay, before
	// any flush ever touched disk: per §4.4's unconditional "(P, del,
	// no_ack) + ack -> empty" rule, the slot leaves no trace at all, for a
	// persistent message exactly as for a transient one (§4.3, §9).
	if _, err := qi.Read(1); err != ErrSeqNotFound {
		t.Fatalf("expected ErrSeqNotFound once an unflushed persistent slot is fully acked, got %v", err)
	}

	transientPub := &PubRecord{IsPersistent: false}
	if err := qi.Publish(2, transientPub, PublishProps{}); err != nil {
		t.Fatalf("publish transient: %v", err)
	}
	if err := qi.Deliver(2); err != nil {
		t.Fatalf("deliver transient: %v", err)
	}
	if err := qi.Ack(2); err != nil {
		t.Fatalf("ack transient: %v", err)
	}
	if _, err := qi.Read(2); err != ErrSeqNotFound {
		t.Fatalf("expected ErrSeqNotFound once a transient message is fully acked, got %v", err)
	}
}

func TestFlushWritesSegmentAndTruncatesJournal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	pub := &PubRecord{IsPersistent: true}
	if err := qi.Publish(10, pub, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := qi.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if qi.journal.Size() != 0 {
		t.Fatalf("expected journal truncated after flush, size=%d", qi.journal.Size())
	}

	msg, err := qi.Read(10)
	if err != nil {
		t.Fatalf("read after flush: %v", err)
	}
	if msg.SeqId != 10 {
		t.Fatalf("unexpected seq: %d", msg.SeqId)
	}
}

func TestStatsReflectsPublishedAndUnacked(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	if err := qi.Publish(1, &PubRecord{IsPersistent: true}, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	stats := qi.Stats()
	if stats.Unacked != 1 {
		t.Fatalf("expected 1 unacked, got %d", stats.Unacked)
	}
	if !stats.NeedsSync {
		t.Fatalf("expected NeedsSync true before a sync")
	}
	if err := qi.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if qi.Stats().NeedsSync {
		t.Fatalf("expected NeedsSync false after a sync")
	}
}

// TestBoundsReturnsSequenceIdsScenarioS2 is scenario S2: a single publish
// in segment 0 reports bounds (0, 16384) — SegmentEntryCount sequence ids
// past the lowest segment's start, not "segment 0, segment 1".
func TestBoundsReturnsSequenceIdsScenarioS2(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	if err := qi.Publish(0, &PubRecord{IsPersistent: true, MsgID: mustMsgID("m")}, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	low, next := qi.Bounds()
	if low != 0 || next != SegmentEntryCount {
		t.Fatalf("bounds = (%d, %d), want (0, %d)", low, next, SegmentEntryCount)
	}
}

// TestBoundsSpansMultipleSegmentsScenarioS3 is scenario S3: publishing
// across a segment boundary reports bounds spanning both segments, and
// every unacked seq-id satisfies low <= s < next (P1).
func TestBoundsSpansMultipleSegmentsScenarioS3(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	if err := qi.Publish(SeqId(SegmentEntryCount-1), &PubRecord{IsPersistent: true, MsgID: mustMsgID("m")}, PublishProps{}); err != nil {
		t.Fatalf("publish first: %v", err)
	}
	if err := qi.Publish(SeqId(SegmentEntryCount), &PubRecord{IsPersistent: true, MsgID: mustMsgID("m2")}, PublishProps{}); err != nil {
		t.Fatalf("publish second: %v", err)
	}
	low, next := qi.Bounds()
	if low != 0 || next != 2*SegmentEntryCount {
		t.Fatalf("bounds = (%d, %d), want (0, %d)", low, next, 2*SegmentEntryCount)
	}
	if !(low <= uint64(SegmentEntryCount-1) && uint64(SegmentEntryCount-1) < next) {
		t.Fatalf("unacked seq %d out of bounds [%d,%d)", SegmentEntryCount-1, low, next)
	}
	if !(low <= uint64(SegmentEntryCount) && uint64(SegmentEntryCount) < next) {
		t.Fatalf("unacked seq %d out of bounds [%d,%d)", SegmentEntryCount, low, next)
	}
}

func TestRecoverAfterCleanTerminate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	msgStore := newFakeMessageStore()
	terms := newFakeRecoveryTerms()

	qi, err := Init(dir, msgStore, terms, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	pub := &PubRecord{IsPersistent: true}
	pub.MsgID = mustMsgID("recovered-message")
	if err := qi.Publish(3, pub, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := qi.Terminate(true, nil); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	recovered, msgs, err := Recover(dir, true, msgStore, terms, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	defer recovered.journal.Close()

	if len(msgs) != 1 || msgs[0].SeqId != 3 {
		t.Fatalf("unexpected recovered messages: %+v", msgs)
	}

	if _, found, _ := terms.Read(filepath.Base(dir)); found {
		t.Fatalf("expected recovery terms erased after Recover")
	}
}

// TestRecoverCleanPathTrustsPersistedUnackedCount proves the clean path
// actually consumes the segmentsTermKey value Terminate persisted rather
// than recomputing unacked from the segment file: it rewrites the term with
// a count the file's real content disagrees with and checks Recover
// reports the persisted one.
func TestRecoverCleanPathTrustsPersistedUnackedCount(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	msgStore := newFakeMessageStore()
	terms := newFakeRecoveryTerms()

	qi, err := Init(dir, msgStore, terms, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	pub := &PubRecord{IsPersistent: true, MsgID: mustMsgID("trust-term")}
	if err := qi.Publish(3, pub, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := qi.Terminate(true, nil); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	dirName := filepath.Base(dir)
	stored, found, err := terms.Read(dirName)
	if err != nil || !found {
		t.Fatalf("read terms: found=%v err=%v", found, err)
	}
	stored[segmentsTermKey] = []SegmentUnacked{{Seg: 0, Unacked: 99}}
	if err := terms.Write(dirName, stored); err != nil {
		t.Fatalf("rewrite terms: %v", err)
	}

	recovered, _, err := Recover(dir, true, msgStore, terms, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	defer recovered.journal.Close()

	st, ok := recovered.segments.Find(0)
	if !ok {
		t.Fatalf("expected segment 0 materialized")
	}
	if st.Unacked != 99 {
		t.Fatalf("expected clean path to trust persisted unacked count 99, got %d", st.Unacked)
	}
}

func TestParseSegmentUnackedTermsHandlesNativeAndJSONDecodedShapes(t *testing.T) {
	native := map[string]any{segmentsTermKey: []SegmentUnacked{{Seg: 1, Unacked: 4}}}
	got := parseSegmentUnackedTerms(native)
	if got[1] != 4 {
		t.Fatalf("native shape: got %+v", got)
	}

	jsonDecoded := map[string]any{
		segmentsTermKey: []any{
			map[string]any{"Seg": float64(2), "Unacked": float64(7)},
		},
	}
	got = parseSegmentUnackedTerms(jsonDecoded)
	if got[2] != 7 {
		t.Fatalf("json-decoded shape: got %+v", got)
	}

	if got := parseSegmentUnackedTerms(map[string]any{}); got != nil {
		t.Fatalf("expected nil for missing key, got %+v", got)
	}
}

func TestRecoverDirtyReplaysUnflushedJournal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	msgStore := newFakeMessageStore()
	terms := newFakeRecoveryTerms()

	qi, err := Init(dir, msgStore, terms, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	pub := &PubRecord{IsPersistent: true, MsgID: mustMsgID("still-in-msg-store")}
	msgStore.ids[pub.MsgID] = true // the message store still has this body (§4.6 recovery policy)
	if err := qi.Publish(7, pub, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := qi.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	// Simulate a crash: no Terminate, no clean-shutdown marker, journal
	// left on disk with the unflushed publish.
	qi.journal.Close()

	recovered, msgs, err := Recover(dir, false, msgStore, terms, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	defer recovered.journal.Close()

	if len(msgs) != 1 || msgs[0].SeqId != 7 {
		t.Fatalf("expected dirty recovery to replay the unflushed publish, got %+v", msgs)
	}
	if !msgs[0].IsDelivered {
		t.Fatalf("expected recovery policy to mark a contains=true slot delivered, got %+v", msgs[0])
	}
}

func TestRecoverDirtyRecoveryPolicyScenarioS4(t *testing.T) {
	// S4: publish(M, 0, persistent); crash mid-flush; recover(dirty,
	// contains->true) yields exactly one unacked message at seq-id 0.
	// recover(dirty, contains->false) yields zero, and the overlay has
	// synthesized a del+ack for rel 0.
	run := func(t *testing.T, contains bool) (msgs []Message, qi *QueueIndex) {
		dir := filepath.Join(t.TempDir(), "q1")
		msgStore := newFakeMessageStore()
		terms := newFakeRecoveryTerms()

		setup, err := Init(dir, msgStore, terms, nil)
		if err != nil {
			t.Fatalf("init: %v", err)
		}
		pub := &PubRecord{IsPersistent: true, MsgID: mustMsgID("s4-message")}
		if contains {
			msgStore.ids[pub.MsgID] = true
		}
		if err := setup.Publish(0, pub, PublishProps{}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		if err := setup.Sync(); err != nil {
			t.Fatalf("sync: %v", err)
		}
		setup.journal.Close() // crash mid-flush: journal left with the unflushed publish

		recovered, got, err := Recover(dir, false, msgStore, terms, nil)
		if err != nil {
			t.Fatalf("recover: %v", err)
		}
		return got, recovered
	}

	t.Run("contains true", func(t *testing.T) {
		msgs, qi := run(t, true)
		defer qi.journal.Close()
		if len(msgs) != 1 || msgs[0].SeqId != 0 {
			t.Fatalf("expected exactly one unacked message at seq 0, got %+v", msgs)
		}
	})

	t.Run("contains false", func(t *testing.T) {
		msgs, qi := run(t, false)
		defer qi.journal.Close()
		if len(msgs) != 0 {
			t.Fatalf("expected zero unacked messages, got %+v", msgs)
		}
		st, ok := qi.segments.Find(0)
		if !ok {
			t.Fatalf("expected segment 0 materialized")
		}
		e, found := st.Overlay[0]
		if !found || !e.Delivered || !e.Acked {
			t.Fatalf("expected synthesized del+ack for rel 0, got %+v", e)
		}
	})
}

func TestDeliverAndAckAfterFlushReflectInOverlayMerge(t *testing.T) {
	// The core of §4.4's "empty + deliver/ack" transitions: once a publish
	// has been flushed to disk and its overlay slot cleared, Deliver and
	// Ack for that same seq must not be mistaken for "never published".
	dir := filepath.Join(t.TempDir(), "q1")
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	pub := &PubRecord{IsPersistent: true}
	pub.MsgID = mustMsgID("flushed-then-delivered")
	if err := qi.Publish(5, pub, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := qi.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := qi.Deliver(5); err != nil {
		t.Fatalf("deliver after flush: %v", err)
	}
	msg, err := qi.Read(5)
	if err != nil {
		t.Fatalf("read after deliver: %v", err)
	}
	if !msg.IsDelivered {
		t.Fatalf("expected delivered after flush+deliver, got %+v", msg)
	}

	if err := qi.Ack(5); err != nil {
		t.Fatalf("ack after flush: %v", err)
	}
	if _, err := qi.Read(5); err != ErrSeqNotFound {
		t.Fatalf("expected ErrSeqNotFound after ack, got %v", err)
	}

	if err := qi.Flush(); err != nil {
		t.Fatalf("final flush: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "0.idx")); !os.IsNotExist(err) {
		t.Fatalf("expected segment file deleted once fully acked (§I3), stat err=%v", err)
	}
}

func TestReadRangeHalfOpenAscending(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	for _, seq := range []SeqId{0, 1, 2} {
		pub := &PubRecord{IsPersistent: true, Size: uint32(seq)}
		if err := qi.Publish(seq, pub, PublishProps{}); err != nil {
			t.Fatalf("publish %d: %v", seq, err)
		}
	}
	if err := qi.Deliver(1); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := qi.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	msgs, err := qi.ReadRange(0, 2)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(msgs) != 2 || msgs[0].SeqId != 0 || msgs[1].SeqId != 1 {
		t.Fatalf("unexpected range [0,2): %+v", msgs)
	}
	if !msgs[1].IsDelivered {
		t.Fatalf("expected seq 1 delivered, got %+v", msgs[1])
	}

	all, err := qi.ReadRange(0, 3)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected all 3 published seqs, got %+v", all)
	}

	if empty, err := qi.ReadRange(5, 5); err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result for empty range, got %+v err=%v", empty, err)
	}
}

func TestDeleteAndTerminateRemovesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	terms := newFakeRecoveryTerms()
	qi, err := Init(dir, newFakeMessageStore(), terms, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := qi.DeleteAndTerminate(); err != nil {
		t.Fatalf("delete and terminate: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected queue directory to be gone, stat err=%v", err)
	}
	if _, found, _ := terms.Read(filepath.Base(dir)); found {
		t.Fatalf("expected recovery terms erased after DeleteAndTerminate")
	}
}

// fakeMetrics records how many times each hook fired, so tests can check
// SetMetrics actually wires Publish/Deliver/Ack/Flush/Sync through without
// pulling in the real Prometheus-backed internal/metrics package.
type fakeMetrics struct {
	publishes, delivers, acks, flushes, syncs int
}

func (f *fakeMetrics) ObservePublish(bool)             { f.publishes++ }
func (f *fakeMetrics) ObserveDeliver()                 { f.delivers++ }
func (f *fakeMetrics) ObserveAck(bool)                 { f.acks++ }
func (f *fakeMetrics) ObserveFlush(time.Duration, error) { f.flushes++ }
func (f *fakeMetrics) ObserveSync()                    { f.syncs++ }
func (f *fakeMetrics) ObserveJournalBytes(int64)       {}
func (f *fakeMetrics) ObserveSegments(int)             {}

func TestSetMetricsObservesEveryOperation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	m := &fakeMetrics{}
	qi.SetMetrics(m)

	if err := qi.Publish(0, &PubRecord{IsPersistent: true}, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := qi.Deliver(0); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := qi.Ack(0); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := qi.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := qi.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if m.publishes != 1 || m.delivers != 1 || m.acks != 1 || m.flushes != 1 || m.syncs != 1 {
		t.Fatalf("unexpected hook counts: %+v", m)
	}

	qi.SetMetrics(nil)
	if err := qi.Publish(1, &PubRecord{IsPersistent: false}, PublishProps{}); err != nil {
		t.Fatalf("publish after detach: %v", err)
	}
	if m.publishes != 1 {
		t.Fatalf("expected no further observations after SetMetrics(nil), got %+v", m)
	}
}

// fakeSyncer records exactly what it was handed, so tests can assert both
// the contents of each call and that OnSync/OnSyncMsg never cross wires.
type fakeSyncer struct {
	synced    map[[16]byte]struct{}
	syncedMsg map[[16]byte]struct{}
	calls     int
}

func (f *fakeSyncer) OnSync(ids map[[16]byte]struct{}) {
	f.synced = copyIDSet(ids)
	f.calls++
}

func (f *fakeSyncer) OnSyncMsg(ids map[[16]byte]struct{}) {
	f.syncedMsg = copyIDSet(ids)
	f.calls++
}

func copyIDSet(ids map[[16]byte]struct{}) map[[16]byte]struct{} {
	out := make(map[[16]byte]struct{}, len(ids))
	for id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// TestPublishConfirmRoutesByEmbeddedBody is §3/§4.6/I5: a needs_confirming
// publish lands in unconfirmedMsg when its body is embedded in the index,
// and in unconfirmed otherwise — and NeedsSync reports SyncConfirms the
// moment either set is non-empty, even with no other unsynced journal
// writes.
func TestPublishConfirmRoutesByEmbeddedBody(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	syncer := &fakeSyncer{}
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), syncer)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	external := mustMsgID("external")
	embedded := mustMsgID("embedded")

	if err := qi.Publish(0, &PubRecord{IsPersistent: true, MsgID: external}, PublishProps{NeedsConfirming: true}); err != nil {
		t.Fatalf("publish external: %v", err)
	}
	if err := qi.Publish(1, &PubRecord{IsPersistent: true, MsgID: embedded, Embedded: []byte("body")}, PublishProps{NeedsConfirming: true}); err != nil {
		t.Fatalf("publish embedded: %v", err)
	}

	if _, ok := qi.unconfirmed[external]; !ok {
		t.Fatalf("expected external msg-id in unconfirmed")
	}
	if _, ok := qi.unconfirmedMsg[embedded]; !ok {
		t.Fatalf("expected embedded msg-id in unconfirmedMsg")
	}
	if len(qi.unconfirmed) != 1 || len(qi.unconfirmedMsg) != 1 {
		t.Fatalf("expected exactly one id in each set, got %v / %v", qi.unconfirmed, qi.unconfirmedMsg)
	}

	if status := qi.NeedsSync(); status != SyncConfirms {
		t.Fatalf("expected SyncConfirms before a sync, got %v", status)
	}

	if err := qi.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(qi.unconfirmed) != 0 || len(qi.unconfirmedMsg) != 0 {
		t.Fatalf("expected both sets cleared after a successful sync (I5), got %v / %v", qi.unconfirmed, qi.unconfirmedMsg)
	}
	if _, ok := syncer.synced[external]; !ok || len(syncer.synced) != 1 {
		t.Fatalf("expected syncer.OnSync to receive exactly the external id, got %v", syncer.synced)
	}
	if _, ok := syncer.syncedMsg[embedded]; !ok || len(syncer.syncedMsg) != 1 {
		t.Fatalf("expected syncer.OnSyncMsg to receive exactly the embedded id, got %v", syncer.syncedMsg)
	}
	if status := qi.NeedsSync(); status != SyncNone {
		t.Fatalf("expected SyncNone once confirmed and nothing else pending, got %v", status)
	}
}

// TestNeedsSyncTriState exercises all three outcomes of §4.4's needs_sync:
// SyncNone on a fresh index, SyncOther once a non-confirming write is
// buffered, and SyncConfirms once a needs_confirming publish is pending —
// confirms takes priority even over other buffered writes.
func TestNeedsSyncTriState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	syncer := &fakeSyncer{}
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), syncer)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	if status := qi.NeedsSync(); status != SyncNone {
		t.Fatalf("expected SyncNone on a fresh index, got %v", status)
	}

	if err := qi.Publish(0, &PubRecord{IsPersistent: true, MsgID: mustMsgID("a")}, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if status := qi.NeedsSync(); status != SyncOther {
		t.Fatalf("expected SyncOther with a buffered non-confirming write, got %v", status)
	}

	if err := qi.Publish(1, &PubRecord{IsPersistent: true, MsgID: mustMsgID("b")}, PublishProps{NeedsConfirming: true}); err != nil {
		t.Fatalf("publish confirming: %v", err)
	}
	if status := qi.NeedsSync(); status != SyncConfirms {
		t.Fatalf("expected SyncConfirms once a confirm is pending, got %v", status)
	}
}

// TestFlushAlsoConfirms is I5's "emptied only after an fsync of the
// journal returns successfully" applied to an implicit Flush, not just an
// explicit Sync — Flush fsyncs the journal too, so it must confirm the
// same way.
func TestFlushAlsoConfirms(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	syncer := &fakeSyncer{}
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), syncer)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	id := mustMsgID("flush-confirm")
	if err := qi.Publish(0, &PubRecord{IsPersistent: true, MsgID: id}, PublishProps{NeedsConfirming: true}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := qi.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, ok := syncer.synced[id]; !ok {
		t.Fatalf("expected Flush to confirm the pending publish, got %v", syncer.synced)
	}
	if status := qi.NeedsSync(); status != SyncNone {
		t.Fatalf("expected SyncNone after flush confirms, got %v", status)
	}
}

// TestBoundsTracksHighWaterMarkAfterSegmentDrop is §8 S2: Bounds' "next"
// must report past the highest segment number ever seen, even after I3
// lets a fully-acked segment's in-memory entry get dropped on flush —
// deriving it live from qi.segments.Keys() would let NextSeq regress.
func TestBoundsTracksHighWaterMarkAfterSegmentDrop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q1")
	qi, err := Init(dir, newFakeMessageStore(), newFakeRecoveryTerms(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer qi.journal.Close()

	seq := SeqId(SegmentEntryCount) // segment 1
	if err := qi.Publish(seq, &PubRecord{IsPersistent: false, MsgID: mustMsgID("m")}, PublishProps{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	_, high := qi.Bounds()
	if high != 2*SegmentEntryCount {
		t.Fatalf("expected high bound past segment 1, got %d", high)
	}

	// Put the publish on disk first, so the ack below reaches flush as an
	// overlay delta; a slot acked before it was ever flushed leaves no
	// overlay at all, and flush skips a segment with an empty overlay.
	if err := qi.Flush(); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if err := qi.Deliver(seq); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := qi.Ack(seq); err != nil {
		t.Fatalf("ack: %v", err)
	}
	// Flushing the ack erases segment 1's only slot, so flush deletes its
	// file and drops it from qi.segments entirely (I3).
	if err := qi.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, ok := qi.segments.Find(1); ok {
		t.Fatalf("expected segment 1 to be dropped from qi.segments after the flush")
	}

	_, high = qi.Bounds()
	if high != 2*SegmentEntryCount {
		t.Fatalf("expected high bound to still report past segment 1 after it was dropped, got %d", high)
	}
}
