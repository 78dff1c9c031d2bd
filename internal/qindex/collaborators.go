package qindex

// MessageStore is the external collaborator that actually holds message
// bodies when a publish does not embed one (§5 external interfaces). The
// index only ever asks it one question: whether it still recognizes a
// message id, which recovery needs to decide whether a segment entry whose
// body lives outside the index is still valid.
type MessageStore interface {
	Contains(msgID [16]byte) (bool, error)
}

// RecoveryTerms is the external collaborator that persists the small bit of
// state Recover needs to tell a clean shutdown from a dirty one, and
// anything else the owning queue process wants carried across a clean
// restart (§5, §4.6). Each queue directory owns exactly one logical
// key/value blob, identified by the same directory name qindex.DirName
// produces.
type RecoveryTerms interface {
	// Read returns the stored terms for dirName and whether any were
	// found at all. No entry found means "no evidence of a clean
	// shutdown" and forces the dirty recovery path.
	Read(dirName string) (terms map[string]any, found bool, err error)

	// Write persists terms for dirName, replacing whatever was there.
	Write(dirName string, terms map[string]any) error

	// Erase removes any stored terms for dirName — called once a queue
	// is deleted outright, so a stale clean-shutdown record can never be
	// misread for a queue directory that gets reused.
	Erase(dirName string) error
}

// Syncer is the external collaborator a QueueIndex notifies once a journal
// fsync has durably confirmed a batch of publishes (§3, §4.6, §9, I5): a
// msg-id is only ever handed to one of these two methods, never both,
// depending on whether its publish embedded the body in the index or
// deferred to the external message store. §9 groups this with the
// recovery-time contains predicate as "pure function references ... model
// as a single small interface with three methods, or as three
// function-value fields"; the contains predicate keeps its own home on
// MessageStore here since §4.6's recover signature already supplies it
// separately from on_sync/on_sync_msg, with its own distinct lifecycle
// (recovery-only, not per-sync).
//
// nil is a valid Syncer: Init/Recover accept it for callers — the start-up
// walker, the inspection CLI — that only ever read an index back, never
// publish through it, and so never need publisher confirms.
type Syncer interface {
	// OnSync is called with the confirmed msg-ids whose bodies live in the
	// external message store.
	OnSync(msgIDs map[[16]byte]struct{})

	// OnSyncMsg is called with the confirmed msg-ids whose bodies were
	// embedded directly in the index.
	OnSyncMsg(msgIDs map[[16]byte]struct{})
}
