package models

// StyleProfile names one of the fixed questioning styles.
type StyleProfile string

const (
	StyleNoviceFriendly           StyleProfile = "novice-friendly"
	StyleIntermediateGuided       StyleProfile = "intermediate-guided"
	StyleAdvancedTechnical        StyleProfile = "advanced-technical"
	StyleExpertEfficient          StyleProfile = "expert-efficient"
	StyleImpatientAccelerated     StyleProfile = "impatient-accelerated"
	StyleConfusedSupportive       StyleProfile = "confused-supportive"
	StyleCollaborativeExploratory StyleProfile = "collaborative-exploratory"
)

// AllStyles lists every style profile.
var AllStyles = []StyleProfile{
	StyleNoviceFriendly,
	StyleIntermediateGuided,
	StyleAdvancedTechnical,
	StyleExpertEfficient,
	StyleImpatientAccelerated,
	StyleConfusedSupportive,
	StyleCollaborativeExploratory,
}

// IsValidStyle reports whether s is one of AllStyles.
func IsValidStyle(s StyleProfile) bool {
	switch s {
	case StyleNoviceFriendly, StyleIntermediateGuided, StyleAdvancedTechnical, StyleExpertEfficient,
		StyleImpatientAccelerated, StyleConfusedSupportive, StyleCollaborativeExploratory:
		return true
	}
	return false
}

// StyleSelection is the selector's output: the chosen style plus why.
type StyleSelection struct {
	Style       StyleProfile `json:"style"`
	Reason      string       `json:"reason"`
	Composite   float64      `json:"composite_sophistication"`
	Temperature float64      `json:"temperature"`
}

// EffectivenessReport scores how well the current style is landing.
type EffectivenessReport struct {
	Style          StyleProfile `json:"style"`
	Score          float64      `json:"score"`
	Engagement     float64      `json:"engagement"`
	Clarity        float64      `json:"clarity"`
	Alignment      float64      `json:"alignment"`
	ShouldReselect bool         `json:"should_reselect"`
	Reason         string       `json:"reason,omitempty"`
}

// QuickSophistication is the lightweight sophistication hint.
type QuickSophistication struct {
	Level      SophisticationLevel `json:"level"`
	Confidence float64             `json:"confidence"`
	Indicators []string            `json:"indicators,omitempty"`
}
