package flow

// Thresholds are the fixed decision constants used by the pivot engine and the
// style selector. They are configuration, not derived values.
type Thresholds struct {
	// Escape-signal confidence needed to pivot (strictly greater than).
	FatigueConfidence    float64
	ExpertiseConfidence  float64
	ImpatienceConfidence float64
	RedirectConfidence   float64

	// Structural fallbacks.
	MaxFirstStageExchanges int     // history longer than this while still in the first stage
	LowEngagement          float64 // rolling average strictly below this is "low"
	EngagementWindow       int     // exchanges in the rolling engagement window

	// Style bands over the composite sophistication score (inclusive lower bounds).
	ExpertBand       float64
	AdvancedBand     float64
	IntermediateBand float64

	// Collaborative spirit strictly above this turns expert into collaborative-exploratory.
	CollaborativeSpirit float64

	// Effectiveness strictly below this asks for a style re-selection.
	MinEffectiveness float64
}

// DefaultThresholds returns the standard decision constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FatigueConfidence:    0.5,
		ExpertiseConfidence:  0.6,
		ImpatienceConfidence: 0.5,
		RedirectConfidence:   0.6,

		MaxFirstStageExchanges: 8,
		LowEngagement:          0.4,
		EngagementWindow:       3,

		ExpertBand:       0.8,
		AdvancedBand:     0.6,
		IntermediateBand: 0.4,

		CollaborativeSpirit: 0.7,
		MinEffectiveness:    0.6,
	}
}

// explicitPivotKeywords are lowercase phrases that ask outright to stop questioning.
var explicitPivotKeywords = []string{
	"assumption",
	"skip ahead",
	"skip to",
	"wireframe",
	"just build",
	"just generate",
	"fill in the rest",
	"make it up",
	"use your best guess",
	"move on",
}
