// Package metrics exposes Prometheus instrumentation for batch dispatch and
// job processing. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "enrich"

// Metrics groups every collector the service registers.
type Metrics struct {
	gatherer prometheus.Gatherer

	BatchesTotal    *prometheus.CounterVec
	BatchAttempts   *prometheus.HistogramVec
	BatchesInFlight *prometheus.GaugeVec
	ItemsTotal      *prometheus.CounterVec

	JobsEnqueued *prometheus.CounterVec
	JobsFinished *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	JobsReaped   prometheus.Counter

	ProviderCalls *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: g,

		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Settled batches by task and outcome.",
		}, []string{"task", "outcome"}),

		BatchAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_attempts",
			Help:      "Provider calls made per settled batch.",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		}, []string{"task"}),

		BatchesInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batches_in_flight",
			Help:      "Batches currently being dispatched.",
		}, []string{"task"}),

		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Settled items by task and outcome.",
		}, []string{"task", "outcome"}),

		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted into the queue.",
		}, []string{"kind"}),

		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"kind", "status"}),

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from claim to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),

		JobsReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reaped_total",
			Help:      "Running jobs failed because their lease expired.",
		}),

		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "AI provider calls by provider, call type and result.",
		}, []string{"provider", "call", "result"}),
	}
}

// Handler serves the registered collectors.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// BatchStarted marks a batch as in flight.
func (m *Metrics) BatchStarted(task string) {
	if m == nil {
		return
	}
	m.BatchesInFlight.WithLabelValues(task).Inc()
}

// BatchSettled records the outcome of a batch after its last attempt.
func (m *Metrics) BatchSettled(task string, ok bool, attempts, items int) {
	if m == nil {
		return
	}
	outcome := outcomeLabel(ok)
	m.BatchesInFlight.WithLabelValues(task).Dec()
	m.BatchesTotal.WithLabelValues(task, outcome).Inc()
	m.ItemsTotal.WithLabelValues(task, outcome).Add(float64(items))
	if attempts > 0 {
		m.BatchAttempts.WithLabelValues(task).Observe(float64(attempts))
	}
}

// BatchSkipped records a batch that was never dispatched.
func (m *Metrics) BatchSkipped(task string, items int) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(task, "canceled").Inc()
	m.ItemsTotal.WithLabelValues(task, "canceled").Add(float64(items))
}

// JobEnqueued counts an accepted job.
func (m *Metrics) JobEnqueued(kind string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(kind).Inc()
}

// JobFinished records a job reaching status after running for d.
func (m *Metrics) JobFinished(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(kind, status).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// JobsExpired counts jobs failed by the lease reaper.
func (m *Metrics) JobsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.JobsReaped.Add(float64(n))
}

// ProviderCall counts one call to an AI provider.
func (m *Metrics) ProviderCall(provider, call string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderCalls.WithLabelValues(provider, call, result).Inc()
}

func outcomeLabel(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}
