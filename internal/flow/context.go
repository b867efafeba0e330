package flow

import (
	"strings"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// maxDomainKnowledgeNotes caps how many entity notes a profile accumulates.
const maxDomainKnowledgeNotes = 20

// NewConversationContext creates the context for a fresh session.
func NewConversationContext(sessionID, domain string, profile models.UserProfile) models.ConversationContext {
	return models.ConversationContext{
		SessionID:   sessionID,
		Domain:      domain,
		Stage:       models.StageIdeaClarity,
		Profile:     profile,
		LastUpdated: timeNow(),
	}
}

// UpdateContext returns a copy of cc with the exchange appended and the user
// profile re-banded. cc itself is not modified.
func UpdateContext(cc models.ConversationContext, utterance string, analysis models.ResponseAnalysis, th Thresholds) (models.ConversationContext, error) {
	if err := models.ValidateUtterance(utterance); err != nil {
		return cc, err
	}
	if err := cc.Validate(); err != nil {
		return cc, err
	}

	next := cc.Clone()
	ex := models.ConversationExchange{
		Utterance: utterance,
		Analysis:  analysis.Clone(),
		Timestamp: timeNow(),
		Stage:     cc.Stage,
	}
	if cc.CurrentQuestion != nil {
		q := cc.CurrentQuestion.Clone()
		ex.Question = &q
	}
	next.History = append(next.History, ex)
	next.CurrentQuestion = nil

	next.Profile.SophisticationLevel = SophisticationLevelFor(CompositeSophistication(analysis), th)
	if avg, ok := RecentEngagement(next.History, th.EngagementWindow); ok {
		next.Profile.EngagementPattern = engagementPatternFor(avg, th)
	} else {
		next.Profile.EngagementPattern = engagementPatternFor(analysis.EngagementLevel, th)
	}
	next.Profile.DomainKnowledge = mergeNotes(next.Profile.DomainKnowledge, analysis.Entities)
	next.LastUpdated = ex.Timestamp
	return next, nil
}

// engagementPatternFor bands an engagement average. Anything at or above the
// advanced band reads as engaged.
func engagementPatternFor(avg float64, th Thresholds) models.EngagementPattern {
	switch {
	case avg < th.LowEngagement:
		return models.EngagementDisengaged
	case avg >= th.AdvancedBand:
		return models.EngagementEngaged
	default:
		return models.EngagementModerate
	}
}

func mergeNotes(existing, add []string) []string {
	out := existing
	seen := make(map[string]bool, len(existing))
	for _, n := range existing {
		seen[strings.ToLower(n)] = true
	}
	for _, n := range add {
		n = strings.TrimSpace(n)
		if n == "" || seen[strings.ToLower(n)] {
			continue
		}
		seen[strings.ToLower(n)] = true
		out = append(out, n)
	}
	if len(out) > maxDomainKnowledgeNotes {
		out = out[len(out)-maxDomainKnowledgeNotes:]
	}
	return out
}
