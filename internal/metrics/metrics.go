// Package metrics exposes Prometheus counters and gauges for the queue
// index: publish/deliver/ack throughput, journal size, segment counts, and
// flush/recovery latency. It mirrors the broker's own metrics.Registry
// pattern — a dependency-injected wrapper around a private
// prometheus.Registry rather than the package-global default registry, so
// tests can spin up isolated instances.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every qindex metric and the private Prometheus registry
// they're registered against.
type Registry struct {
	prom *prometheus.Registry

	Published   *prometheus.CounterVec
	Delivered   prometheus.Counter
	Acked       *prometheus.CounterVec
	Flushes     prometheus.Counter
	FlushErrors prometheus.Counter
	Syncs       prometheus.Counter
	JournalSize prometheus.Gauge
	Segments    prometheus.Gauge
	FlushTime   prometheus.Histogram
	RecoverTime prometheus.Histogram
}

// New builds a fresh Registry with every metric registered under the
// "quidx" namespace.
func New() *Registry {
	prom := prometheus.NewRegistry()

	r := &Registry{
		prom: prom,
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quidx",
			Name:      "messages_published_total",
			Help:      "Publish records appended to the journal, by persistence class.",
		}, []string{"persistence"}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quidx",
			Name:      "messages_delivered_total",
			Help:      "Deliver records appended to the journal.",
		}),
		Acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quidx",
			Name:      "messages_acked_total",
			Help:      "Ack records appended to the journal, by persistence class.",
		}, []string{"persistence"}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quidx",
			Name:      "flushes_total",
			Help:      "Completed journal-to-segment flushes.",
		}),
		FlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quidx",
			Name:      "flush_errors_total",
			Help:      "Flushes that failed partway through.",
		}),
		Syncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quidx",
			Name:      "journal_syncs_total",
			Help:      "Completed journal fsyncs.",
		}),
		JournalSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quidx",
			Name:      "journal_bytes",
			Help:      "Current size of the journal file in bytes.",
		}),
		Segments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quidx",
			Name:      "segments",
			Help:      "Number of materialized segment files.",
		}),
		FlushTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quidx",
			Name:      "flush_seconds",
			Help:      "Time spent merging journal entries into segment files.",
			Buckets:   prometheus.DefBuckets,
		}),
		RecoverTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quidx",
			Name:      "recover_seconds",
			Help:      "Time spent recovering queue directories at start-up.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	prom.MustRegister(
		r.Published, r.Delivered, r.Acked,
		r.Flushes, r.FlushErrors, r.Syncs,
		r.JournalSize, r.Segments,
		r.FlushTime, r.RecoverTime,
	)
	return r
}

// The methods below make *Registry satisfy qindex.Metrics, without this
// package importing qindex: qindex only needs the method shapes, not the
// type, which keeps the dependency edge one-directional (qindex has no
// idea metrics exists, exactly as §9 asks for the on_sync-style
// collaborators).

func persistenceLabel(persistent bool) string {
	if persistent {
		return "persistent"
	}
	return "transient"
}

// ObservePublish implements qindex.Metrics.
func (r *Registry) ObservePublish(persistent bool) {
	r.Published.WithLabelValues(persistenceLabel(persistent)).Inc()
}

// ObserveDeliver implements qindex.Metrics.
func (r *Registry) ObserveDeliver() {
	r.Delivered.Inc()
}

// ObserveAck implements qindex.Metrics.
func (r *Registry) ObserveAck(persistent bool) {
	r.Acked.WithLabelValues(persistenceLabel(persistent)).Inc()
}

// ObserveFlush implements qindex.Metrics.
func (r *Registry) ObserveFlush(dur time.Duration, err error) {
	r.Flushes.Inc()
	if err != nil {
		r.FlushErrors.Inc()
	}
	r.FlushTime.Observe(dur.Seconds())
}

// ObserveSync implements qindex.Metrics.
func (r *Registry) ObserveSync() {
	r.Syncs.Inc()
}

// ObserveJournalBytes implements qindex.Metrics.
func (r *Registry) ObserveJournalBytes(n int64) {
	r.JournalSize.Set(float64(n))
}

// ObserveSegments implements qindex.Metrics.
func (r *Registry) ObserveSegments(n int) {
	r.Segments.Set(float64(n))
}

// ObserveRecover records how long a recovery took (§4.6); `serve` calls it
// once with the duration of its whole start-up walk over every queue
// directory. It is called directly by callers wrapping qindex.Recover, since
// Recover is a package function with no QueueIndex to hang a hook off of
// yet.
func (r *Registry) ObserveRecover(dur time.Duration) {
	r.RecoverTime.Observe(dur.Seconds())
}

// Handler returns an http.Handler serving this registry's metrics in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}
