// Package observability exposes Prometheus metrics for the analysis
// pipeline: per-unit outcomes, inference latency and model recoveries.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Unit outcome label values.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

// Metrics holds the pipeline's Prometheus collectors on a dedicated
// registry, keeping test instances independent.
type Metrics struct {
	registry *prometheus.Registry

	UnitsTotal        *prometheus.CounterVec
	InferenceDuration prometheus.Histogram
	BatchDuration     prometheus.Histogram
	ModelRecoveries   prometheus.Counter
	ModelLoadAttempts prometheus.Counter
}

// NewMetrics creates and registers all pipeline collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		UnitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sed_units_total",
			Help: "Recording units handled by the batch pipeline, by outcome.",
		}, []string{"outcome"}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sed_inference_duration_seconds",
			Help:    "Wall time spent running model inference per recording.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sed_batch_duration_seconds",
			Help:    "Wall time of complete batch runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ModelRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sed_model_recoveries_total",
			Help: "Model cache recoveries triggered by inference-time corruption.",
		}),
		ModelLoadAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sed_model_load_attempts_total",
			Help: "Model load attempts including retries.",
		}),
	}

	registry.MustRegister(
		m.UnitsTotal,
		m.InferenceDuration,
		m.BatchDuration,
		m.ModelRecoveries,
		m.ModelLoadAttempts,
	)
	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
