package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskboard/notify-engine/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	EntriesCreated      prometheus.Counter
	EntriesMerged       prometheus.Counter
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	SendLatency         *prometheus.HistogramVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_entries_created_total",
			Help: "Total number of new queue entries created by intake.",
		}),

		EntriesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_entries_merged_total",
			Help: "Total number of events merged into an existing pending entry.",
		}),

		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of successfully delivered notifications.",
		}, []string{"kind"}),

		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of permanently failed notifications (permanent error or retries exhausted).",
		}, []string{"kind"}),

		SendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_send_seconds",
			Help:    "Delivery latency from sweep pickup to transport ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.EntriesCreated,
		m.EntriesMerged,
		m.NotificationsSent,
		m.NotificationsFailed,
		m.SendLatency,
	)

	return m
}

// IntakeHooks returns the metric callback functions expected by
// service.IntakeHooks, so the service stays prometheus-free.
func (m *Metrics) IntakeHooks() (onCreated, onMerged func()) {
	onCreated = func() { m.EntriesCreated.Inc() }
	onMerged = func() { m.EntriesMerged.Inc() }
	return
}

// DispatcherHooks returns the metric callback functions expected by
// worker.MetricHooks. Centralises the prometheus observation calls so
// dispatcher.go stays import-free.
func (m *Metrics) DispatcherHooks() (
	onSent func(domain.Kind, time.Duration),
	onFailed func(domain.Kind),
) {
	onSent = func(k domain.Kind, latency time.Duration) {
		m.NotificationsSent.WithLabelValues(string(k)).Inc()
		m.SendLatency.WithLabelValues(string(k)).Observe(latency.Seconds())
	}
	onFailed = func(k domain.Kind) {
		m.NotificationsFailed.WithLabelValues(string(k)).Inc()
	}
	return
}
