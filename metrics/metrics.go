// Package metrics exposes Prometheus collectors for ingestion, review runs
// and verification.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustlens-backend/models"
)

const namespace = "trustlens"

// Metrics owns a private registry so tests and multiple servers never collide
type Metrics struct {
	registry *prometheus.Registry

	ingestions        *prometheus.CounterVec
	chunksIndexed     prometheus.Counter
	verdicts          *prometheus.CounterVec
	verifyLatency     *prometheus.HistogramVec
	citationsStripped *prometheus.CounterVec
	activeRuns        prometheus.Gauge
}

// New registers all collectors plus the Go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Document ingestions by outcome.",
		}, []string{"outcome"}),
		chunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks embedded and written to the vector index.",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Persisted review verdicts by status.",
		}, []string{"status"}),
		verifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_seconds",
			Help:      "Time spent verifying one rule.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"status"}),
		citationsStripped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citations_stripped_total",
			Help:      "Citations removed because the quote was not found in any candidate.",
		}, []string{"rule_id"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_review_runs",
			Help:      "Review runs currently executing.",
		}),
	}
	m.registry.MustRegister(
		m.ingestions,
		m.chunksIndexed,
		m.verdicts,
		m.verifyLatency,
		m.citationsStripped,
		m.activeRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// IngestionFinished records a document leaving PROCESSING
func (m *Metrics) IngestionFinished(status models.DocumentStatus, chunks int) {
	m.ingestions.WithLabelValues(string(status)).Inc()
	m.chunksIndexed.Add(float64(chunks))
}

// ResultPersisted counts a stored verdict
func (m *Metrics) ResultPersisted(status models.VerdictStatus) {
	m.verdicts.WithLabelValues(string(status)).Inc()
}

// RunStarted and RunFinished track executing runs
func (m *Metrics) RunStarted()  { m.activeRuns.Inc() }
func (m *Metrics) RunFinished() { m.activeRuns.Dec() }

// CitationStripped implements verifier.Observer
func (m *Metrics) CitationStripped(ruleID string) {
	m.citationsStripped.WithLabelValues(ruleID).Inc()
}

// Verified implements verifier.Observer
func (m *Metrics) Verified(status models.VerdictStatus, elapsed time.Duration) {
	m.verifyLatency.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}
