// Package analytics computes read-side session metrics from stored
// conversation states.
package analytics

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// StateReader is the slice of store.Store the aggregator reads from.
type StateReader interface {
	GetConversationState(sessionID string) (*models.ConversationState, error)
	ListConversationStates(window models.TimeWindow) ([]models.ConversationState, error)
}

// StageRates holds one completion rate per content stage.
type StageRates struct {
	IdeaClarity    float64 `json:"idea-clarity"`
	UserWorkflow   float64 `json:"user-workflow"`
	TechnicalSpecs float64 `json:"technical-specs"`
	Wireframes     float64 `json:"wireframes"`
}

// At returns a pointer to the rate for a content stage, or nil.
func (r *StageRates) At(s models.Stage) *float64 {
	switch s {
	case models.StageIdeaClarity:
		return &r.IdeaClarity
	case models.StageUserWorkflow:
		return &r.UserWorkflow
	case models.StageTechnicalSpecs:
		return &r.TechnicalSpecs
	case models.StageWireframes:
		return &r.Wireframes
	default:
		return nil
	}
}

// SessionMetrics describes one session.
type SessionMetrics struct {
	SessionID            string       `json:"session_id"`
	Domain               string       `json:"domain"`
	CurrentStage         models.Stage `json:"current_stage"`
	TotalDurationSeconds float64      `json:"total_duration_seconds"`
	AvgResponseSeconds   float64      `json:"avg_response_seconds"`
	Responses            int          `json:"responses"`
	CompletionRate       float64      `json:"completion_rate"`
	Completed            bool         `json:"completed"`
	Escaped              bool         `json:"escaped"`
	EscapeStage          models.Stage `json:"escape_stage,omitempty"`
	EscapeReason         string       `json:"escape_reason,omitempty"`
	StageCompletion      StageRates   `json:"stage_completion"`
}

// AggregateMetrics summarises every session created inside a window.
type AggregateMetrics struct {
	Window               models.TimeWindow    `json:"window"`
	Sessions             int                  `json:"sessions"`
	CompletedSessions    int                  `json:"completed_sessions"`
	EscapedSessions      int                  `json:"escaped_sessions"`
	AvgDurationSeconds   float64              `json:"avg_duration_seconds"`
	AvgResponseSeconds   float64              `json:"avg_response_seconds"`
	AvgCompletionRate    float64              `json:"avg_completion_rate"`
	EscapeRate           float64              `json:"escape_rate"`
	AvgStageCompletion   StageRates           `json:"avg_stage_completion"`
	EscapeStageHistogram map[models.Stage]int `json:"escape_stage_histogram"`
	DomainDistribution   map[string]int       `json:"domain_distribution"`
	TotalResponses       int                  `json:"total_responses"`
}

// SessionMetricsFor computes metrics for one session as of now.
func SessionMetricsFor(st models.ConversationState, now time.Time) SessionMetrics {
	m := SessionMetrics{
		SessionID:      st.SessionID,
		Domain:         st.Domain,
		CurrentStage:   st.CurrentStage,
		CompletionRate: models.Clamp01(st.OverallProgress / 100),
		Completed:      st.IsCompleted(),
	}

	end := now
	if st.CompletedAt != nil {
		end = *st.CompletedAt
	}
	if d := end.Sub(st.CreatedAt); d > 0 {
		m.TotalDurationSeconds = d.Seconds()
	}

	var gaps time.Duration
	intervals := 0
	for _, s := range models.ContentStages {
		p := st.Stages.At(s)
		m.Responses += len(p.Responses)
		for i := 1; i < len(p.Responses); i++ {
			gaps += p.Responses[i].Timestamp.Sub(p.Responses[i-1].Timestamp)
			intervals++
		}
		*m.StageCompletion.At(s) = stageCompletion(*p)
	}
	if intervals > 0 {
		m.AvgResponseSeconds = (gaps / time.Duration(intervals)).Seconds()
	}

	if st.EscapeTriggered() {
		m.Escaped = true
		m.EscapeStage = st.Escape.Stage
		m.EscapeReason = st.Escape.Reason
	}
	return m
}

// stageCompletion is 1 for a completed stage, answered/total while in
// progress, and 0 otherwise.
func stageCompletion(p models.StageProgress) float64 {
	switch p.Status {
	case models.StageStatusCompleted:
		return 1
	case models.StageStatusInProgress:
		if p.TotalQuestions <= 0 {
			return 0
		}
		return models.Clamp01(float64(p.QuestionsAnswered) / float64(p.TotalQuestions))
	default:
		return 0
	}
}

// Aggregate folds per-session metrics into cohort averages.
func Aggregate(states []models.ConversationState, window models.TimeWindow, now time.Time) AggregateMetrics {
	agg := AggregateMetrics{
		Window:               window,
		EscapeStageHistogram: make(map[models.Stage]int),
		DomainDistribution:   make(map[string]int),
	}

	var duration, completion, response float64
	var stageSums StageRates
	responders := 0
	for _, st := range states {
		if !window.Contains(st.CreatedAt) {
			continue
		}
		m := SessionMetricsFor(st, now)
		agg.Sessions++
		agg.DomainDistribution[m.Domain]++
		agg.TotalResponses += m.Responses
		duration += m.TotalDurationSeconds
		completion += m.CompletionRate
		if m.AvgResponseSeconds > 0 {
			response += m.AvgResponseSeconds
			responders++
		}
		if m.Completed {
			agg.CompletedSessions++
		}
		if m.Escaped {
			agg.EscapedSessions++
			agg.EscapeStageHistogram[m.EscapeStage]++
		}
		for _, s := range models.ContentStages {
			*stageSums.At(s) += *m.StageCompletion.At(s)
		}
	}

	if agg.Sessions == 0 {
		return agg
	}
	n := float64(agg.Sessions)
	agg.AvgDurationSeconds = duration / n
	agg.AvgCompletionRate = completion / n
	agg.EscapeRate = float64(agg.EscapedSessions) / n
	if responders > 0 {
		agg.AvgResponseSeconds = response / float64(responders)
	}
	for _, s := range models.ContentStages {
		*agg.AvgStageCompletion.At(s) = *stageSums.At(s) / n
	}
	return agg
}

// Aggregator reads states from a store and computes metrics over them.
type Aggregator struct {
	states StateReader
	now    func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock used for unfinished sessions.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator over states.
func NewAggregator(states StateReader, opts ...Option) *Aggregator {
	a := &Aggregator{states: states, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Session returns metrics for one session. A missing session is a StateError.
func (a *Aggregator) Session(sessionID string) (SessionMetrics, error) {
	if sessionID == "" {
		return SessionMetrics{}, models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	st, err := a.states.GetConversationState(sessionID)
	if err != nil {
		slog.Error("Aggregator.Session: read failed", "sessionID", sessionID, "error", err)
		return SessionMetrics{}, err
	}
	if st == nil {
		return SessionMetrics{}, models.NewStateError(sessionID, models.ErrSessionNotFound)
	}
	return SessionMetricsFor(*st, a.now()), nil
}

// Aggregate returns cohort metrics for sessions created inside window.
func (a *Aggregator) Aggregate(window models.TimeWindow) (AggregateMetrics, error) {
	if err := window.Validate(); err != nil {
		return AggregateMetrics{}, err
	}
	states, err := a.states.ListConversationStates(window)
	if err != nil {
		slog.Error("Aggregator.Aggregate: list failed", "error", err)
		return AggregateMetrics{}, err
	}
	agg := Aggregate(states, window, a.now())
	slog.Debug("Aggregator.Aggregate computed", "sessions", agg.Sessions, "escapeRate", agg.EscapeRate)
	return agg, nil
}
