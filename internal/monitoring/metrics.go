package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Navigation outcomes.
const (
	OutcomeLoaded   = "loaded"
	OutcomeNotFound = "not_found"
	OutcomeExternal = "external"
	OutcomeFailed   = "failed"
)

// Metrics holds the runtime's Prometheus collectors. Every method is safe to
// call on a nil *Metrics, so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	Navigations      *prometheus.CounterVec
	SandboxesActive  prometheus.Gauge
	SandboxesTotal   prometheus.Counter
	Retrievals       *prometheus.CounterVec
	EmbedFailures    *prometheus.CounterVec
	Messages         *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	ShimFetches      *prometheus.CounterVec
}

// NewMetrics creates collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Navigations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vsite_navigations_total",
				Help: "Virtual navigations by outcome",
			},
			[]string{"outcome"},
		),
		SandboxesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vsite_sandboxes_active",
			Help: "Content sandboxes currently alive",
		}),
		SandboxesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vsite_sandboxes_total",
			Help: "Content sandboxes launched",
		}),
		Retrievals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vsite_retrievals_total",
				Help: "File retrievals by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		EmbedFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vsite_embed_failures_total",
				Help: "Elements that could not be rewritten, by kind",
			},
			[]string{"kind"},
		),
		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vsite_protocol_messages_total",
				Help: "Cross-context messages by sender and action",
			},
			[]string{"from", "action"},
		),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vsite_rewrite_duration_seconds",
			Help:    "Time spent rewriting one page",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		ShimFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vsite_shim_fetches_total",
				Help: "Fetches seen by the shim layer, by target",
			},
			[]string{"target"},
		),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordNavigation counts a navigation attempt.
func (m *Metrics) RecordNavigation(outcome string) {
	if m == nil {
		return
	}
	m.Navigations.WithLabelValues(outcome).Inc()
}

// SandboxLaunched tracks a new sandbox.
func (m *Metrics) SandboxLaunched() {
	if m == nil {
		return
	}
	m.SandboxesTotal.Inc()
	m.SandboxesActive.Inc()
}

// SandboxDisposed tracks a disposed sandbox.
func (m *Metrics) SandboxDisposed() {
	if m == nil {
		return
	}
	m.SandboxesActive.Dec()
}

// RecordRetrieval counts one file retrieval.
func (m *Metrics) RecordRetrieval(strategy string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Retrievals.WithLabelValues(strategy, outcome).Inc()
}

// RecordEmbedFailure counts one element left un-embedded.
func (m *Metrics) RecordEmbedFailure(kind string) {
	if m == nil {
		return
	}
	m.EmbedFailures.WithLabelValues(kind).Inc()
}

// RecordMessage counts one protocol message.
func (m *Metrics) RecordMessage(from, action string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(from, action).Inc()
}

// RecordFetch counts a shim fetch; target is "virtual" or "network".
func (m *Metrics) RecordFetch(target string) {
	if m == nil {
		return
	}
	m.ShimFetches.WithLabelValues(target).Inc()
}

// ObservePipeline records the duration of one page rewrite.
func (m *Metrics) ObservePipeline(d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDuration.Observe(d.Seconds())
}
