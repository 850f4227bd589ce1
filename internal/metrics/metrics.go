// Package metrics owns the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mealdash/internal/identity"
	"mealdash/internal/lookup"
)

const namespace = "mealdash"

// Metrics is a dedicated registry plus the collectors on it.
type Metrics struct {
	Registry *prometheus.Registry

	DecodeOutcomes  *prometheus.CounterVec
	ScanTransitions *prometheus.CounterVec
	ScanSessions    prometheus.Gauge
	FlowRuns        *prometheus.CounterVec
	FlowDuration    *prometheus.HistogramVec
	QueueMessages   *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		DecodeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_outcomes_total",
			Help:      "Frame decode outcomes by kind.",
		}, []string{"kind"}),
		ScanTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_transitions_total",
			Help:      "Lookup controller state transitions.",
		}, []string{"from", "to"}),
		ScanSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_sessions_live",
			Help:      "Lookup sessions currently registered.",
		}),
		FlowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_flow_runs_total",
			Help:      "AI flow runs by flow and result (ok or fallback).",
		}, []string{"flow", "result"}),
		FlowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_flow_duration_seconds",
			Help:      "AI flow latency.",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 16, 32},
		}, []string{"flow"}),
		QueueMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Queue messages handled by type and result.",
		}, []string{"type", "result"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.DecodeOutcomes,
		m.ScanTransitions,
		m.ScanSessions,
		m.FlowRuns,
		m.FlowDuration,
		m.QueueMessages,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveDecode(kind identity.Kind) {
	m.DecodeOutcomes.WithLabelValues(kind.String()).Inc()
}

// ObserveTransition counts a controller transition and, for the exit out of
// Scanning, the decode outcome that caused it.
func (m *Metrics) ObserveTransition(t lookup.Transition) {
	m.ScanTransitions.WithLabelValues(t.From.String(), t.To.String()).Inc()
	if t.From == lookup.Scanning && (t.To == lookup.Resolved || t.To == lookup.Failed) {
		m.ObserveDecode(t.Outcome)
	}
}

// ObserveFlow has the aiflow.Observer signature.
func (m *Metrics) ObserveFlow(flow string, manual bool, elapsed time.Duration) {
	result := "ok"
	if manual {
		result = "fallback"
	}
	m.FlowRuns.WithLabelValues(flow, result).Inc()
	m.FlowDuration.WithLabelValues(flow).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMessage(msgType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.QueueMessages.WithLabelValues(msgType, result).Inc()
}
