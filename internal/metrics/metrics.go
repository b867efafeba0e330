// Package metrics provides Prometheus metrics for ElicitPipe.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/ElicitPipe/internal/flow"
	"github.com/BTreeMap/ElicitPipe/internal/genai"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

const namespace = "elicitpipe"

// Metrics holds all Prometheus metrics for ElicitPipe.
type Metrics struct {
	registry *prometheus.Registry

	// Session and turn metrics
	SessionsStartedTotal *prometheus.CounterVec
	TurnsTotal           *prometheus.CounterVec
	TurnDuration         *prometheus.HistogramVec
	PivotsTotal          *prometheus.CounterVec
	StylesSelectedTotal  *prometheus.CounterVec
	StageTransitions     *prometheus.CounterVec
	AssumptionSetsTotal  *prometheus.CounterVec
	MessagesQueuedTotal  *prometheus.CounterVec

	// Generation metrics
	GenerationRequestsTotal *prometheus.CounterVec
	GenerationDuration      *prometheus.HistogramVec
	GenerationTokensTotal   *prometheus.CounterVec

	// Server metrics
	ServerStartTime time.Time
}

// New creates and registers all metrics on a fresh registry, together with
// the standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{registry: reg, ServerStartTime: time.Now()}

	m.SessionsStartedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of discovery sessions started",
		},
		[]string{"domain"},
	)

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of processed turns by outcome",
		},
		[]string{"outcome"},
	)

	m.TurnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of a full turn in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"outcome"},
	)

	m.PivotsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pivots_total",
			Help:      "Total number of pivots away from questioning by trigger",
		},
		[]string{"trigger"},
	)

	m.StylesSelectedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "styles_selected_total",
			Help:      "Total number of questioning style selections",
		},
		[]string{"style"},
	)

	m.StageTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Total number of stage transitions by target stage",
		},
		[]string{"stage"},
	)

	m.AssumptionSetsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assumption_sets_total",
			Help:      "Total number of assumption sets by source",
		},
		[]string{"source"},
	)

	m.MessagesQueuedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_queued_total",
			Help:      "Total number of outbound messages queued",
		},
		[]string{"kind"},
	)

	m.GenerationRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of text-generation calls",
		},
		[]string{"status"},
	)

	m.GenerationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration of text-generation calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"status"},
	)

	m.GenerationTokensTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_total",
			Help:      "Total tokens consumed by text generation",
		},
		[]string{"kind"},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackActiveSessions exposes the size reported by fn as a gauge.
func (m *Metrics) TrackActiveSessions(fn func() int) {
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions held in the session registry",
		},
		func() float64 { return float64(fn()) },
	)
}

var _ flow.Recorder = (*Metrics)(nil)

// SessionStarted implements flow.Recorder.
func (m *Metrics) SessionStarted(domain string) {
	m.SessionsStartedTotal.WithLabelValues(domain).Inc()
}

// TurnProcessed implements flow.Recorder.
func (m *Metrics) TurnProcessed(outcome string, d time.Duration) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// PivotDecided implements flow.Recorder.
func (m *Metrics) PivotDecided(trigger models.PivotTrigger) {
	m.PivotsTotal.WithLabelValues(string(trigger)).Inc()
}

// StyleSelected implements flow.Recorder.
func (m *Metrics) StyleSelected(style models.StyleProfile) {
	m.StylesSelectedTotal.WithLabelValues(string(style)).Inc()
}

// StageTransitioned implements flow.Recorder.
func (m *Metrics) StageTransitioned(to models.Stage) {
	m.StageTransitions.WithLabelValues(string(to)).Inc()
}

// AssumptionsGenerated implements flow.Recorder.
func (m *Metrics) AssumptionsGenerated(source models.GenerationSource) {
	m.AssumptionSetsTotal.WithLabelValues(string(source)).Inc()
}

// MessageEnqueued implements flow.Recorder.
func (m *Metrics) MessageEnqueued(kind string) {
	m.MessagesQueuedTotal.WithLabelValues(kind).Inc()
}

// RecordGeneration records one text-generation call.
func (m *Metrics) RecordGeneration(status string, d time.Duration, promptTokens, completionTokens int64) {
	m.GenerationRequestsTotal.WithLabelValues(status).Inc()
	m.GenerationDuration.WithLabelValues(status).Observe(d.Seconds())
	if promptTokens > 0 {
		m.GenerationTokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.GenerationTokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

// instrumentedGenerator records metrics around every Generate call.
type instrumentedGenerator struct {
	next genai.Generator
	m    *Metrics
}

// InstrumentGenerator wraps gen so every call is counted and timed.
func InstrumentGenerator(gen genai.Generator, m *Metrics) genai.Generator {
	return &instrumentedGenerator{next: gen, m: m}
}

func (g *instrumentedGenerator) Generate(ctx context.Context, prompt string, opts genai.GenerateOptions) (genai.Completion, error) {
	start := time.Now()
	out, err := g.next.Generate(ctx, prompt, opts)
	status := "success"
	if err != nil {
		status = "error"
	}
	g.m.RecordGeneration(status, time.Since(start), out.PromptTokens, out.CompletionTokens)
	return out, err
}
