package flow

import "github.com/BTreeMap/ElicitPipe/internal/models"

// mean5 averages five scores.
func mean5(v [5]float64) float64 {
	return (v[0] + v[1] + v[2] + v[3] + v[4]) / 5
}

// CompositeSophistication is the mean of the five sophistication breakdown fields.
// The pivot engine, style selector and question generator all use this one
// definition.
func CompositeSophistication(a models.ResponseAnalysis) float64 {
	return models.Clamp01(mean5(a.SophisticationBreakdown.Values()))
}

// CompositeClarity is the mean of the five clarity metrics.
func CompositeClarity(a models.ResponseAnalysis) float64 {
	return models.Clamp01(mean5(a.ClarityMetrics.Values()))
}

// CompositeEngagement is the mean of the five engagement metrics.
func CompositeEngagement(a models.ResponseAnalysis) float64 {
	return models.Clamp01(mean5(a.EngagementMetrics.Values()))
}

// RecentEngagement averages EngagementLevel over the last window exchanges of
// history. ok is false until history holds a full window.
func RecentEngagement(history []models.ConversationExchange, window int) (avg float64, ok bool) {
	if window <= 0 || len(history) < window {
		return 0, false
	}
	var sum float64
	for _, ex := range history[len(history)-window:] {
		sum += ex.Analysis.EngagementLevel
	}
	return sum / float64(window), true
}

// SophisticationLevelFor maps a composite score to a profile band.
func SophisticationLevelFor(composite float64, th Thresholds) models.SophisticationLevel {
	switch {
	case composite >= th.ExpertBand:
		return models.SophisticationExpert
	case composite >= th.AdvancedBand:
		return models.SophisticationAdvanced
	case composite >= th.IntermediateBand:
		return models.SophisticationIntermediate
	default:
		return models.SophisticationNovice
	}
}
