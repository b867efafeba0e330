// Package flow implements the adaptive elicitation engine: response analysis,
// pivot decisions, questioning-style selection, assumption synthesis, the stage
// state machine, and the turn orchestrator that composes them.
package flow

import (
	"context"

	"github.com/BTreeMap/ElicitPipe/internal/genai"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// Engine exposes each pipeline step as an independent, side-effect-free
// operation apart from the generation call it makes.
type Engine struct {
	th          Thresholds
	analyzer    *ResponseAnalyzer
	pivot       *PivotEngine
	style       *StyleSelector
	assumptions *AssumptionGenerator
	questions   *QuestionGenerator
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithThresholds overrides the default decision constants.
func WithThresholds(th Thresholds) EngineOption {
	return func(e *Engine) { e.th = th }
}

// WithIDGenerator overrides how assumption ids are minted.
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) { e.assumptions.newID = fn }
}

// NewEngine builds an Engine over the generation port.
func NewEngine(gen genai.Generator, opts ...EngineOption) *Engine {
	e := &Engine{
		th:          DefaultThresholds(),
		analyzer:    NewResponseAnalyzer(gen),
		assumptions: NewAssumptionGenerator(gen),
		questions:   NewQuestionGenerator(gen),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pivot = NewPivotEngine(e.th)
	e.style = NewStyleSelector(e.th)
	return e
}

// Thresholds returns the engine's decision constants.
func (e *Engine) Thresholds() Thresholds { return e.th }

// AnalyzeResponse scores one utterance.
func (e *Engine) AnalyzeResponse(ctx context.Context, utterance string, cc models.ConversationContext) (models.ResponseAnalysis, error) {
	return e.analyzer.Analyze(ctx, utterance, cc)
}

// QuickSophisticationCheck returns a lightweight sophistication hint.
func (e *Engine) QuickSophisticationCheck(ctx context.Context, utterance, domain string) (models.QuickSophistication, error) {
	return e.analyzer.QuickSophisticationCheck(ctx, utterance, domain)
}

// CheckPivot decides whether to stop questioning without generating assumptions.
func (e *Engine) CheckPivot(cc models.ConversationContext, analysis models.ResponseAnalysis) (models.PivotDecision, error) {
	return e.pivot.CheckPivot(cc, analysis)
}

// DecidePivot is CheckPivot against an utterance not yet in the history.
func (e *Engine) DecidePivot(cc models.ConversationContext, analysis models.ResponseAnalysis, utterance string) (models.PivotDecision, error) {
	return e.pivot.Decide(cc, analysis, utterance)
}

// GenerateAssumptions synthesises an assumption set; it falls back to domain
// templates rather than failing.
func (e *Engine) GenerateAssumptions(ctx context.Context, cc models.ConversationContext, analysis models.ResponseAnalysis, reason string) (models.AssumptionSet, error) {
	return e.assumptions.Generate(ctx, cc, analysis, reason)
}

// RefineAssumptions revises a set from user feedback, keeping the original on failure.
func (e *Engine) RefineAssumptions(ctx context.Context, set models.AssumptionSet, feedback, domain string) (models.AssumptionSet, bool, error) {
	return e.assumptions.Refine(ctx, set, feedback, domain)
}

// SelectStyle picks the questioning style for the next question.
func (e *Engine) SelectStyle(cc models.ConversationContext, analysis models.ResponseAnalysis) (models.StyleSelection, error) {
	return e.style.SelectStyle(cc, analysis)
}

// AdaptStyle keeps the current style while effective and re-selects otherwise.
func (e *Engine) AdaptStyle(cc models.ConversationContext, analysis models.ResponseAnalysis) (models.StyleSelection, error) {
	return e.style.AdaptStyle(cc, analysis)
}

// MonitorEffectiveness scores how well a style is landing.
func (e *Engine) MonitorEffectiveness(style models.StyleProfile, analysis models.ResponseAnalysis) (models.EffectivenessReport, error) {
	return e.style.MonitorEffectiveness(style, analysis)
}

// GenerateQuestion produces the next question in the given style.
func (e *Engine) GenerateQuestion(ctx context.Context, cc models.ConversationContext, style models.StyleProfile) (models.Question, error) {
	return e.questions.Generate(ctx, cc, style)
}

// UpdateContext appends an exchange and returns the new context.
func (e *Engine) UpdateContext(cc models.ConversationContext, utterance string, analysis models.ResponseAnalysis) (models.ConversationContext, error) {
	return UpdateContext(cc, utterance, analysis, e.th)
}
