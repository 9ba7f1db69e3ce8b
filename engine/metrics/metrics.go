// Package metrics exports runtime metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter holds the runtime's Prometheus collectors.
type Exporter struct {
	registry *prometheus.Registry

	// LLM metrics
	llmCalls   *prometheus.CounterVec
	llmErrors  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
	llmTokens  *prometheus.CounterVec

	// Event bus metrics
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec

	// Actor metrics
	activeStreams prometheus.Gauge
	turnsLimited  prometheus.Counter
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// New creates a metrics exporter.
func New(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{
		registry: registry,
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentworld_llm_calls_total",
			Help: "LLM pipeline invocations by provider and outcome.",
		}, []string{"provider", "outcome"}),
		llmErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentworld_llm_errors_total",
			Help: "LLM pipeline errors by provider and reason.",
		}, []string{"provider", "reason"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentworld_llm_latency_seconds",
			Help:    "Wall-clock latency of one LLM pipeline run.",
			Buckets: cfg.LatencyBuckets,
		}, []string{"provider"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentworld_llm_tokens_total",
			Help: "Tokens consumed by direction (input/output).",
		}, []string{"provider", "direction"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentworld_events_published_total",
			Help: "Events published on world buses by topic.",
		}, []string{"topic"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentworld_events_dropped_total",
			Help: "Events dropped by bounded subscriber channels by topic.",
		}, []string{"topic"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentworld_active_streams",
			Help: "Number of in-flight LLM streams.",
		}),
		turnsLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentworld_turns_limited_total",
			Help: "Agent responses suppressed by the turn limit.",
		}),
	}

	registry.MustRegister(
		e.llmCalls, e.llmErrors, e.llmLatency, e.llmTokens,
		e.eventsPublished, e.eventsDropped,
		e.activeStreams, e.turnsLimited,
	)
	return e
}

func (e *Exporter) RecordLLMCall(provider, outcome string, duration time.Duration) {
	e.llmCalls.WithLabelValues(provider, outcome).Inc()
	e.llmLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

func (e *Exporter) RecordLLMError(provider, reason string) {
	e.llmErrors.WithLabelValues(provider, reason).Inc()
}

func (e *Exporter) RecordTokens(provider string, input, output int) {
	e.llmTokens.WithLabelValues(provider, "input").Add(float64(input))
	e.llmTokens.WithLabelValues(provider, "output").Add(float64(output))
}

func (e *Exporter) RecordEventPublished(topic string) {
	e.eventsPublished.WithLabelValues(topic).Inc()
}

func (e *Exporter) RecordEventDropped(topic string) {
	e.eventsDropped.WithLabelValues(topic).Inc()
}

func (e *Exporter) StreamStarted() {
	e.activeStreams.Inc()
}

func (e *Exporter) StreamFinished() {
	e.activeStreams.Dec()
}

func (e *Exporter) RecordTurnLimited() {
	e.turnsLimited.Inc()
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
