package qindex

import "time"

// Metrics is the optional collaborator a QueueIndex reports its own
// operations to (the expansion's internal/metrics package implements it).
// It is queried with the same "pure function reference" posture as
// MessageStore and RecoveryTerms (§9: "model as a single small interface"):
// nil is always a valid, no-op value, so tests and callers that don't care
// about observability never have to provide one.
type Metrics interface {
	ObservePublish(persistent bool)
	ObserveDeliver()
	ObserveAck(persistent bool)
	ObserveFlush(dur time.Duration, err error)
	ObserveSync()
	ObserveJournalBytes(n int64)
	ObserveSegments(n int)
}

// SetMetrics attaches m to qi; every Publish/Deliver/Ack/Flush/Sync call
// from this point on reports to it. Passing nil detaches metrics again.
func (qi *QueueIndex) SetMetrics(m Metrics) {
	qi.metrics = m
}

func (qi *QueueIndex) observePublish(persistent bool) {
	if qi.metrics != nil {
		qi.metrics.ObservePublish(persistent)
	}
}

func (qi *QueueIndex) observeDeliver() {
	if qi.metrics != nil {
		qi.metrics.ObserveDeliver()
	}
}

func (qi *QueueIndex) observeAck(persistent bool) {
	if qi.metrics != nil {
		qi.metrics.ObserveAck(persistent)
	}
}

func (qi *QueueIndex) observeFlush(dur time.Duration, err error) {
	if qi.metrics == nil {
		return
	}
	qi.metrics.ObserveFlush(dur, err)
	qi.metrics.ObserveJournalBytes(qi.journal.Size())
	qi.metrics.ObserveSegments(qi.segments.Len())
}

func (qi *QueueIndex) observeSync() {
	if qi.metrics != nil {
		qi.metrics.ObserveSync()
	}
}
