// Package observability provides prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics records limiter measurements on a dedicated registry.
type PrometheusMetrics struct {
	registry     *prometheus.Registry
	decisions    *prometheus.CounterVec
	failOpen     *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	usageRecords *prometheus.CounterVec
	storeUp      prometheus.Gauge
}

// NewPrometheusMetrics registers limiter collectors on a new registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	m := &PrometheusMetrics{
		registry: registry,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apiquota_decisions_total",
			Help: "Admission decisions by dependency and result.",
		}, []string{"dependency", "result"}),
		failOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apiquota_fail_open_total",
			Help: "Checks admitted because the store could not be consulted.",
		}, []string{"dependency", "reason"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apiquota_store_errors_total",
			Help: "Store operation failures.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apiquota_store_latency_seconds",
			Help:    "Store operation latency.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		usageRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apiquota_usage_records_total",
			Help: "Recorded outbound calls by dependency and outcome.",
		}, []string{"dependency", "outcome"}),
		storeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apiquota_store_up",
			Help: "Whether the last store probe succeeded.",
		}),
	}
	registry.MustRegister(
		m.decisions,
		m.failOpen,
		m.storeErrors,
		m.latency,
		m.usageRecords,
		m.storeUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// IncDecision counts an admission decision.
func (m *PrometheusMetrics) IncDecision(dependency string, result string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(dependency, result).Inc()
}

// IncFailOpen counts a fail-open admission.
func (m *PrometheusMetrics) IncFailOpen(dependency string, reason string) {
	if m == nil {
		return
	}
	m.failOpen.WithLabelValues(dependency, reason).Inc()
}

// IncStoreError counts a store failure.
func (m *PrometheusMetrics) IncStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// ObserveLatency tracks store latency.
func (m *PrometheusMetrics) ObserveLatency(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

// IncUsageRecord counts a recorded outbound call.
func (m *PrometheusMetrics) IncUsageRecord(dependency string, outcome string) {
	if m == nil {
		return
	}
	m.usageRecords.WithLabelValues(dependency, outcome).Inc()
}

// SetStoreUp records the last probe result.
func (m *PrometheusMetrics) SetStoreUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.storeUp.Set(1)
		return
	}
	m.storeUp.Set(0)
}
