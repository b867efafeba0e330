// Package api exposes the elicitation engine over HTTP.
//
// Session routes drive the full turn pipeline through flow.ConversationFlow.
// The stateless routes (/analyze, /pivot, /style, /question, /assumptions)
// expose the individual primitives for callers that keep their own state.
// With a messaging channel configured, /webhooks/twilio turns inbound SMS or
// WhatsApp replies into session turns.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/ElicitPipe/internal/analytics"
	"github.com/BTreeMap/ElicitPipe/internal/flow"
	"github.com/BTreeMap/ElicitPipe/internal/messaging"
	"github.com/BTreeMap/ElicitPipe/internal/metrics"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"

	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration for the API server.
type Opts struct {
	Addr    string
	Channel messaging.Channel
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithChannel canonicalizes session recipients through ch and enables the
// inbound Twilio webhook.
func WithChannel(ch messaging.Channel) Option {
	return func(o *Opts) {
		o.Channel = ch
	}
}

// Server serves the HTTP API.
type Server struct {
	flow       *flow.ConversationFlow
	aggregator *analytics.Aggregator
	metrics    *metrics.Metrics
	channel    messaging.Channel
	addr       string
	router     chi.Router
}

// NewServer wires the HTTP routes. m may be nil, in which case /metrics is not served.
func NewServer(f *flow.ConversationFlow, agg *analytics.Aggregator, m *metrics.Metrics, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{flow: f, aggregator: agg, metrics: m, channel: cfg.Channel, addr: cfg.Addr}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	s.RegisterRoutes(r)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// RegisterRoutes registers the session and primitive routes.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.startSessionHandler)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSessionHandler)
			r.Get("/artifacts", s.listArtifactsHandler)
			r.Post("/turns", s.processTurnHandler)
			r.Post("/stage", s.advanceStageHandler)
			r.Post("/assumptions/refine", s.refineAssumptionsHandler)
			r.Get("/metrics", s.sessionMetricsHandler)
		})
	})
	r.Get("/metrics/aggregate", s.aggregateMetricsHandler)

	r.Post("/analyze", s.analyzeHandler)
	r.Post("/pivot", s.pivotHandler)
	r.Post("/style", s.styleHandler)
	r.Post("/question", s.questionHandler)
	r.Post("/assumptions", s.assumptionsHandler)

	if s.channel != nil {
		r.Post("/webhooks/twilio", s.twilioWebhookHandler)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server.Run: listener failed", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: forced shutdown", "error", err)
		return err
	}
	return nil
}
