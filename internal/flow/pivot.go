package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// Pivot reasons for the structural checks.
const (
	ReasonFatigue          = "conversation fatigue"
	ReasonStalledProgress  = "extended conversation without progression"
	ReasonLowEngagement    = "consistently low engagement"
	ReasonExplicitRequest  = "explicit request"
	redirectReasonTemplate = "requesting direct access to %s"
)

// PivotEngine decides whether to abandon questioning. It never calls the
// generation port.
type PivotEngine struct {
	th Thresholds
}

// NewPivotEngine creates a PivotEngine with the given thresholds.
func NewPivotEngine(th Thresholds) *PivotEngine {
	return &PivotEngine{th: th}
}

// CheckPivot evaluates the pivot rules against the latest utterance already in
// the context's history.
func (p *PivotEngine) CheckPivot(cc models.ConversationContext, analysis models.ResponseAnalysis) (models.PivotDecision, error) {
	latest := ""
	if n := len(cc.History); n > 0 {
		latest = cc.History[n-1].Utterance
	}
	return p.Decide(cc, analysis, latest)
}

// Decide evaluates the pivot rules in order; the first match wins. Behavioural
// signals are checked before the structural and lexical fallbacks.
func (p *PivotEngine) Decide(cc models.ConversationContext, analysis models.ResponseAnalysis, utterance string) (models.PivotDecision, error) {
	if err := cc.Validate(); err != nil {
		return models.PivotDecision{}, err
	}
	d := p.decide(cc, analysis, utterance)
	if d.ShouldPivot {
		slog.Info("PivotEngine.Decide: pivot", "sessionID", cc.SessionID, "trigger", d.Trigger, "reason", d.Reason)
	}
	return d, nil
}

func (p *PivotEngine) decide(cc models.ConversationContext, a models.ResponseAnalysis, utterance string) models.PivotDecision {
	sig := a.EscapeSignals
	switch {
	case sig.Fatigue.Detected && sig.Fatigue.Confidence > p.th.FatigueConfidence:
		return pivot(models.TriggerFatigue, ReasonFatigue)
	case sig.Expertise.Detected && sig.Expertise.Confidence > p.th.ExpertiseConfidence:
		return pivot(models.TriggerExpertise, orDefault(sig.Expertise.SkipLevel, "advanced")+" expertise")
	case sig.Impatience.Detected && sig.Impatience.Confidence > p.th.ImpatienceConfidence:
		return pivot(models.TriggerImpatience, orDefault(sig.Impatience.UrgencyLevel, "moderate")+" impatience")
	case sig.Redirect.Detected && sig.Redirect.Confidence > p.th.RedirectConfidence:
		return pivot(models.TriggerRedirect, fmt.Sprintf(redirectReasonTemplate, orDefault(sig.Redirect.Destination, "later stages")))
	}

	if len(cc.History) > p.th.MaxFirstStageExchanges && cc.Stage == models.StageIdeaClarity {
		return pivot(models.TriggerStalledProgress, ReasonStalledProgress)
	}
	if avg, ok := RecentEngagement(cc.History, p.th.EngagementWindow); ok && avg < p.th.LowEngagement {
		return pivot(models.TriggerLowEngagement, ReasonLowEngagement)
	}
	if MatchesExplicitRequest(utterance) {
		return pivot(models.TriggerExplicitRequest, ReasonExplicitRequest)
	}
	return models.PivotDecision{ShouldPivot: false}
}

// MatchesExplicitRequest reports whether utterance asks outright to skip
// questioning.
func MatchesExplicitRequest(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, kw := range explicitPivotKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func pivot(trigger models.PivotTrigger, reason string) models.PivotDecision {
	return models.PivotDecision{ShouldPivot: true, Reason: reason, Trigger: trigger}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
