package flow

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// StyleSelector maps an analysis and the user's recent behaviour to a style.
type StyleSelector struct {
	th Thresholds
}

// NewStyleSelector creates a StyleSelector with the given thresholds.
func NewStyleSelector(th Thresholds) *StyleSelector {
	return &StyleSelector{th: th}
}

// SelectStyle picks a style. Behavioural triggers win over the composite
// sophistication bands.
func (s *StyleSelector) SelectStyle(cc models.ConversationContext, a models.ResponseAnalysis) (models.StyleSelection, error) {
	if err := cc.Validate(); err != nil {
		return models.StyleSelection{}, err
	}
	composite := CompositeSophistication(a)
	style, reason := s.immediate(cc, a)
	if style == "" {
		style, reason = s.byComposite(cc.Profile, a, composite)
	}
	temp, err := TemperatureFor(style)
	if err != nil {
		return models.StyleSelection{}, err
	}
	slog.Debug("StyleSelector.SelectStyle", "sessionID", cc.SessionID, "style", style, "reason", reason, "composite", composite)
	return models.StyleSelection{Style: style, Reason: reason, Composite: composite, Temperature: temp}, nil
}

func (s *StyleSelector) immediate(cc models.ConversationContext, a models.ResponseAnalysis) (models.StyleProfile, string) {
	sig := a.EscapeSignals
	if sig.Impatience.Detected {
		switch sig.Impatience.UrgencyLevel {
		case "high":
			return models.StyleImpatientAccelerated, "high urgency impatience"
		case "moderate":
			return models.StyleExpertEfficient, "moderate urgency impatience"
		}
	}
	if sig.Confusion.Detected {
		return models.StyleConfusedSupportive, "confusion detected"
	}
	if sig.Expertise.Detected {
		switch sig.Expertise.SkipLevel {
		case "advanced":
			return models.StyleExpertEfficient, "advanced expertise"
		case "intermediate":
			return models.StyleAdvancedTechnical, "intermediate expertise"
		}
	}
	if avg, ok := RecentEngagement(cc.History, s.th.EngagementWindow); ok &&
		avg < s.th.LowEngagement && cc.Profile.EngagementPattern == models.EngagementDisengaged {
		return models.StyleCollaborativeExploratory, "sustained low engagement"
	}
	return "", ""
}

func (s *StyleSelector) byComposite(p models.UserProfile, a models.ResponseAnalysis, composite float64) (models.StyleProfile, string) {
	switch {
	case composite >= s.th.ExpertBand || p.SophisticationLevel == models.SophisticationExpert:
		if a.EngagementMetrics.CollaborativeSpirit > s.th.CollaborativeSpirit {
			return models.StyleCollaborativeExploratory, "expert sophistication with collaborative spirit"
		}
		return models.StyleExpertEfficient, "expert sophistication"
	case composite >= s.th.AdvancedBand || p.SophisticationLevel == models.SophisticationAdvanced:
		return models.StyleAdvancedTechnical, "advanced sophistication"
	case composite >= s.th.IntermediateBand || p.SophisticationLevel == models.SophisticationIntermediate:
		return models.StyleIntermediateGuided, "intermediate sophistication"
	default:
		return models.StyleNoviceFriendly, "novice sophistication"
	}
}

// MonitorEffectiveness scores how well style is working for the latest answer:
// the mean of engagement, clarity and alignment between the user's composite
// sophistication and the style's target. Impatience or confusion always ask
// for re-selection.
func (s *StyleSelector) MonitorEffectiveness(style models.StyleProfile, a models.ResponseAnalysis) (models.EffectivenessReport, error) {
	c, err := StyleFor(style)
	if err != nil {
		return models.EffectivenessReport{}, err
	}
	alignment := models.Clamp01(1 - math.Abs(CompositeSophistication(a)-c.TargetSophistication))
	r := models.EffectivenessReport{
		Style:      style,
		Engagement: a.EngagementLevel,
		Clarity:    a.ClarityScore,
		Alignment:  alignment,
	}
	r.Score = models.Clamp01((r.Engagement + r.Clarity + r.Alignment) / 3)

	switch {
	case a.EscapeSignals.Impatience.Detected:
		r.ShouldReselect, r.Reason = true, "impatience detected"
	case a.EscapeSignals.Confusion.Detected:
		r.ShouldReselect, r.Reason = true, "confusion detected"
	case r.Score < s.th.MinEffectiveness:
		r.ShouldReselect, r.Reason = true, fmt.Sprintf("effectiveness %.2f below %.2f", r.Score, s.th.MinEffectiveness)
	}
	return r, nil
}

// AdaptStyle keeps the context's current style while it stays effective and
// re-selects otherwise.
func (s *StyleSelector) AdaptStyle(cc models.ConversationContext, a models.ResponseAnalysis) (models.StyleSelection, error) {
	if cc.CurrentStyle == "" {
		return s.SelectStyle(cc, a)
	}
	report, err := s.MonitorEffectiveness(cc.CurrentStyle, a)
	if err != nil {
		return models.StyleSelection{}, err
	}
	if report.ShouldReselect {
		slog.Debug("StyleSelector.AdaptStyle: reselecting", "sessionID", cc.SessionID, "from", cc.CurrentStyle, "reason", report.Reason)
		return s.SelectStyle(cc, a)
	}
	temp, err := TemperatureFor(cc.CurrentStyle)
	if err != nil {
		return models.StyleSelection{}, err
	}
	return models.StyleSelection{
		Style:       cc.CurrentStyle,
		Reason:      fmt.Sprintf("current style effective (%.2f)", report.Score),
		Composite:   CompositeSophistication(a),
		Temperature: temp,
	}, nil
}

// InitialStyle picks the opening style before any answer has been analysed,
// from the sophistication level the caller supplied in the profile.
func InitialStyle(p models.UserProfile) models.StyleProfile {
	switch p.SophisticationLevel {
	case models.SophisticationExpert:
		return models.StyleExpertEfficient
	case models.SophisticationAdvanced:
		return models.StyleAdvancedTechnical
	case models.SophisticationNovice:
		return models.StyleNoviceFriendly
	default:
		return models.StyleIntermediateGuided
	}
}
