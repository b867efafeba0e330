package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/models"
	"github.com/BTreeMap/ElicitPipe/internal/session"
	"github.com/BTreeMap/ElicitPipe/internal/store"
	"github.com/BTreeMap/ElicitPipe/internal/util"
)

// Outbox message kinds.
const (
	MessageKindQuestion    = "question"
	MessageKindAssumptions = "assumptions"
)

// ConversationFlow composes the engine primitives into whole turns. Each turn
// runs under the session's registry lock and is persisted atomically; a
// failed turn leaves stored state untouched.
type ConversationFlow struct {
	engine       *Engine
	state        *StateManager
	sessions     *session.Registry
	outbox       store.OutboxRepo
	recorder     Recorder
	newSessionID func() string
}

// FlowOption configures a ConversationFlow.
type FlowOption func(*ConversationFlow)

// WithRecorder installs a Recorder for flow events.
func WithRecorder(r Recorder) FlowOption {
	return func(f *ConversationFlow) { f.recorder = r }
}

// WithSessionIDGenerator overrides how session ids are minted.
func WithSessionIDGenerator(fn func() string) FlowOption {
	return func(f *ConversationFlow) { f.newSessionID = fn }
}

// NewConversationFlow creates a flow over engine, persisting through st and
// serializing turns with reg.
func NewConversationFlow(engine *Engine, st store.Store, reg *session.Registry, opts ...FlowOption) *ConversationFlow {
	f := &ConversationFlow{
		engine:       engine,
		state:        NewStateManager(st, reg),
		sessions:     reg,
		outbox:       st,
		recorder:     nopRecorder{},
		newSessionID: util.GenerateSessionID,
	}
	for _, opt := range opts {
		opt(f)
	}
	slog.Debug("ConversationFlow.NewConversationFlow: flow created")
	return f
}

// Engine returns the underlying primitives.
func (f *ConversationFlow) Engine() *Engine { return f.engine }

// StartSession opens a session and generates its opening question.
func (f *ConversationFlow) StartSession(ctx context.Context, req models.StartSessionRequest) (models.TurnResult, error) {
	if err := req.Validate(); err != nil {
		return models.TurnResult{}, err
	}
	domain, err := LookupDomain(strings.ToLower(strings.TrimSpace(req.Domain)))
	if err != nil {
		return models.TurnResult{}, err
	}

	id := f.newSessionID()
	var result models.TurnResult
	err = f.sessions.WithSession(id, func() error {
		st := NewConversationState(id, domain, req.Recipient)
		cc := NewConversationContext(id, domain.Name, req.Profile)

		style := InitialStyle(req.Profile)
		q, err := f.engine.GenerateQuestion(ctx, cc, style)
		if err != nil {
			return err
		}
		cc.CurrentQuestion = &q
		cc.CurrentStyle = style
		if st, err = RecordQuestionAsked(st); err != nil {
			return err
		}

		art, err := models.NewTurnArtifact(id, 0, models.ArtifactQuestion, q, timeNow())
		if err != nil {
			return fmt.Errorf("encode question artifact: %w", err)
		}
		if err := f.state.Create(st, cc, []models.TurnArtifact{art}); err != nil {
			return err
		}

		temp, _ := TemperatureFor(style)
		result = models.TurnResult{
			SessionID: id,
			Sequence:  0,
			Style:     &models.StyleSelection{Style: style, Reason: "opening style from profile", Temperature: temp},
			Question:  &q,
			State:     st,
		}
		result.Delivered = f.deliver(st, 0, MessageKindQuestion, q.Text)
		return nil
	})
	if err != nil {
		f.sessions.Evict(id)
		slog.Error("ConversationFlow.StartSession failed", "domain", req.Domain, "error", err)
		return models.TurnResult{}, err
	}
	f.recorder.SessionStarted(domain.Name)
	f.recorder.StyleSelected(result.Style.Style)
	slog.Info("ConversationFlow.StartSession: session started", "sessionID", id, "domain", domain.Name)
	return result, nil
}

// GetSession returns a session's current state and context.
func (f *ConversationFlow) GetSession(sessionID string) (models.ConversationState, models.ConversationContext, error) {
	return f.state.Load(sessionID)
}

// ProcessTurn runs one full turn for utterance: analyze, decide whether to
// pivot, then either synthesise assumptions or pick a style and ask the next
// question. Stage progress is updated and everything is persisted together.
func (f *ConversationFlow) ProcessTurn(ctx context.Context, sessionID, utterance string) (models.TurnResult, error) {
	if sessionID == "" {
		return models.TurnResult{}, models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	if err := models.ValidateUtterance(utterance); err != nil {
		return models.TurnResult{}, err
	}

	start := time.Now()
	var result models.TurnResult
	outcome := OutcomeFailed
	err := f.sessions.WithSession(sessionID, func() error {
		var err error
		result, outcome, err = f.processTurnLocked(ctx, sessionID, utterance)
		return err
	})
	f.recorder.TurnProcessed(outcome, time.Since(start))
	if err != nil {
		slog.Error("ConversationFlow.ProcessTurn failed", "sessionID", sessionID, "kind", models.ErrorKindOf(err), "error", err)
		return models.TurnResult{}, err
	}
	return result, nil
}

func (f *ConversationFlow) processTurnLocked(ctx context.Context, sessionID, utterance string) (models.TurnResult, string, error) {
	st, cc, err := f.state.Load(sessionID)
	if err != nil {
		return models.TurnResult{}, OutcomeFailed, err
	}
	if st.IsCompleted() {
		return models.TurnResult{}, OutcomeFailed, models.NewStateError(sessionID, models.ErrSessionCompleted)
	}

	analysis, err := f.engine.AnalyzeResponse(ctx, utterance, cc)
	if err != nil {
		return models.TurnResult{}, OutcomeFailed, err
	}

	next, err := f.engine.UpdateContext(cc, utterance, analysis)
	if err != nil {
		return models.TurnResult{}, OutcomeFailed, err
	}
	var asked string
	if cc.CurrentQuestion != nil {
		asked = cc.CurrentQuestion.Text
	}
	if st, err = RecordResponse(st, asked, utterance); err != nil {
		return models.TurnResult{}, OutcomeFailed, err
	}

	decision, err := f.engine.CheckPivot(next, analysis)
	if err != nil {
		return models.TurnResult{}, OutcomeFailed, err
	}

	seq, err := f.state.NextSequence(sessionID)
	if err != nil {
		return models.TurnResult{}, OutcomeFailed, err
	}
	now := timeNow()
	result := models.TurnResult{SessionID: sessionID, Sequence: seq, Analysis: analysis}
	pending := []artifactSpec{
		{models.ArtifactAnalysis, analysis},
	}
	var outgoing, outgoingKind string
	outcome := OutcomeQuestioned

	if decision.ShouldPivot {
		set, err := f.engine.GenerateAssumptions(ctx, next, analysis, decision.Reason)
		if err != nil {
			return models.TurnResult{}, OutcomeFailed, err
		}
		decision.Assumptions = &set
		st = TriggerEscape(st, decision.Reason)
		pending = append(pending, artifactSpec{models.ArtifactAssumptionSet, set})
		outgoing, outgoingKind = FormatAssumptionSummary(set), MessageKindAssumptions
		outcome = OutcomePivoted
	} else {
		if StageQuotaMet(st) {
			if st, err = TransitionStage(st, NextStage(st.CurrentStage)); err != nil {
				return models.TurnResult{}, OutcomeFailed, err
			}
			next.Stage = st.CurrentStage
			slog.Debug("ConversationFlow.ProcessTurn: stage quota met, advanced", "sessionID", sessionID, "stage", st.CurrentStage)
		}
		if st.IsCompleted() {
			outcome = OutcomeCompleted
		} else {
			sel, err := f.engine.AdaptStyle(next, analysis)
			if err != nil {
				return models.TurnResult{}, OutcomeFailed, err
			}
			q, err := f.engine.GenerateQuestion(ctx, next, sel.Style)
			if err != nil {
				return models.TurnResult{}, OutcomeFailed, err
			}
			next.CurrentQuestion = &q
			next.CurrentStyle = sel.Style
			if st, err = RecordQuestionAsked(st); err != nil {
				return models.TurnResult{}, OutcomeFailed, err
			}
			result.Style = &sel
			result.Question = &q
			pending = append(pending, artifactSpec{models.ArtifactQuestion, q})
			outgoing, outgoingKind = q.Text, MessageKindQuestion
		}
	}
	pending = append(pending, artifactSpec{models.ArtifactPivot, decision})

	artifacts, err := buildArtifacts(sessionID, seq, now, pending)
	if err != nil {
		return models.TurnResult{}, OutcomeFailed, err
	}
	if err := f.state.Commit(st, next, artifacts); err != nil {
		return models.TurnResult{}, OutcomeFailed, err
	}

	result.Pivot = decision
	result.State = st
	if outgoing != "" {
		result.Delivered = f.deliver(st, seq, outgoingKind, outgoing)
	}

	if decision.ShouldPivot {
		f.recorder.PivotDecided(decision.Trigger)
		f.recorder.AssumptionsGenerated(decision.Assumptions.Metadata.Source)
	}
	if result.Style != nil {
		f.recorder.StyleSelected(result.Style.Style)
	}
	if st.CurrentStage != cc.Stage {
		f.recorder.StageTransitioned(st.CurrentStage)
	}
	slog.Info("ConversationFlow.ProcessTurn: turn processed", "sessionID", sessionID, "sequence", seq, "outcome", outcome, "stage", st.CurrentStage, "progress", st.OverallProgress)
	return result, outcome, nil
}

// AdvanceStage moves a session forward to stage to. Invalid transitions
// return a StateError and leave the stored state unchanged.
func (f *ConversationFlow) AdvanceStage(ctx context.Context, sessionID string, to models.Stage) (models.ConversationState, error) {
	if !models.IsValidStage(to) {
		return models.ConversationState{}, models.NewValidationError("stage", models.ErrUnknownStage)
	}
	var out models.ConversationState
	err := f.sessions.WithSession(sessionID, func() error {
		st, cc, err := f.state.Load(sessionID)
		if err != nil {
			return err
		}
		next, err := TransitionStage(st, to)
		if err != nil {
			return err
		}
		cc = cc.Clone()
		cc.Stage = next.CurrentStage
		if next.IsCompleted() {
			cc.CurrentQuestion = nil
		}
		if err := f.state.Commit(next, cc, nil); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		slog.Warn("ConversationFlow.AdvanceStage rejected", "sessionID", sessionID, "to", to, "error", err)
		return models.ConversationState{}, err
	}
	f.recorder.StageTransitioned(out.CurrentStage)
	slog.Info("ConversationFlow.AdvanceStage: stage advanced", "sessionID", sessionID, "stage", out.CurrentStage, "progress", out.OverallProgress)
	return out, nil
}

// RefineAssumptions revises the session's latest assumption set from user
// feedback. When refinement fails the latest set is returned unchanged with
// refined=false and nothing is persisted.
func (f *ConversationFlow) RefineAssumptions(ctx context.Context, sessionID, feedback string) (models.AssumptionSet, bool, error) {
	req := models.RefineRequest{Feedback: feedback}
	if err := req.Validate(); err != nil {
		return models.AssumptionSet{}, false, err
	}
	var out models.AssumptionSet
	var refined bool
	err := f.sessions.WithSession(sessionID, func() error {
		st, cc, err := f.state.Load(sessionID)
		if err != nil {
			return err
		}
		latest, maxSeq, err := f.state.LatestArtifact(sessionID, models.ArtifactAssumptionSet)
		if err != nil {
			return err
		}
		if latest == nil {
			return models.NewStateError(sessionID, models.ErrNoAssumptions)
		}
		current, err := decodeArtifact[models.AssumptionSet](*latest)
		if err != nil {
			return err
		}

		out, refined, err = f.engine.RefineAssumptions(ctx, current, feedback, st.Domain)
		if err != nil {
			return err
		}
		if !refined {
			return nil
		}
		art, err := models.NewTurnArtifact(sessionID, maxSeq+1, models.ArtifactAssumptionSet, out, timeNow())
		if err != nil {
			return fmt.Errorf("encode refined assumption set: %w", err)
		}
		st = st.Clone()
		st.UpdatedAt = timeNow()
		if err := f.state.Commit(st, cc, []models.TurnArtifact{art}); err != nil {
			return err
		}
		f.deliver(st, maxSeq+1, MessageKindAssumptions, FormatAssumptionSummary(out))
		return nil
	})
	if err != nil {
		slog.Error("ConversationFlow.RefineAssumptions failed", "sessionID", sessionID, "error", err)
		return models.AssumptionSet{}, false, err
	}
	if refined {
		f.recorder.AssumptionsGenerated(models.SourceRefined)
	}
	return out, refined, nil
}

// Artifacts returns every stored artifact for a session in sequence order.
func (f *ConversationFlow) Artifacts(sessionID string) ([]models.TurnArtifact, error) {
	if _, _, err := f.state.Load(sessionID); err != nil {
		return nil, err
	}
	return f.state.store.ListArtifacts(sessionID)
}

// SessionForRecipient returns the id of the newest open session addressed to
// recipient. Recipients are compared as stored, so callers canonicalize first.
func (f *ConversationFlow) SessionForRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.NewValidationError("recipient", models.ErrMissingRecipient)
	}
	st, err := f.state.store.FindOpenSessionByRecipient(recipient)
	if err != nil {
		slog.Error("ConversationFlow.SessionForRecipient: lookup failed", "error", err)
		return "", err
	}
	if st == nil {
		return "", models.NewStateError("", models.ErrSessionNotFound)
	}
	return st.SessionID, nil
}

// AwaitingFeedback reports whether the session's most recent output was an
// assumption set, so the next reply should refine it rather than answer a
// question.
func (f *ConversationFlow) AwaitingFeedback(sessionID string) (bool, error) {
	st, _, err := f.state.Load(sessionID)
	if err != nil {
		return false, err
	}
	if !st.EscapeTriggered() || st.IsCompleted() {
		return false, nil
	}
	_, kinds, err := f.state.latestSequence(sessionID)
	if err != nil {
		return false, err
	}
	for _, k := range kinds {
		if k == models.ArtifactAssumptionSet {
			return true, nil
		}
	}
	return false, nil
}

// deliver queues body for the session's recipient. Delivery is best effort:
// the turn has already been committed.
func (f *ConversationFlow) deliver(st models.ConversationState, seq int, kind, body string) bool {
	if st.Recipient == "" || f.outbox == nil {
		return false
	}
	_, err := f.outbox.EnqueueOutboxMessage(store.OutboxMessage{
		SessionID: st.SessionID,
		Recipient: st.Recipient,
		Kind:      kind,
		Body:      body,
		DedupeKey: fmt.Sprintf("%s:%d:%s", st.SessionID, seq, kind),
	})
	if err != nil {
		slog.Error("ConversationFlow.deliver: enqueue failed", "sessionID", st.SessionID, "kind", kind, "error", err)
		return false
	}
	f.recorder.MessageEnqueued(kind)
	return true
}

// FormatAssumptionSummary renders an assumption set as a short plain-text
// message for a chat channel.
func FormatAssumptionSummary(set models.AssumptionSet) string {
	var b strings.Builder
	b.WriteString("Here are the working assumptions I'll build on:\n")
	for i, a := range set.Assumptions {
		fmt.Fprintf(&b, "%d. %s (%d%% confidence)\n", i+1, a.Title, int(a.Confidence*100+0.5))
	}
	if len(set.MissingCriticalInfo) > 0 {
		fmt.Fprintf(&b, "Still needed: %s\n", strings.Join(set.MissingCriticalInfo, "; "))
	}
	b.WriteString("Reply with corrections and I'll refine them.")
	return b.String()
}
