package models

import "time"

// Impact rates how much an assumption matters if it turns out wrong.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// NormalizeImpact maps free text to a known Impact, defaulting to medium.
func NormalizeImpact(s string) Impact {
	switch Impact(s) {
	case ImpactLow, ImpactMedium, ImpactHigh:
		return Impact(s)
	}
	return ImpactMedium
}

// Assumption is a confidence-scored stand-in answer for an unasked question.
type Assumption struct {
	ID                  string   `json:"id"`
	Category            string   `json:"category"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Confidence          float64  `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	Impact              Impact   `json:"impact"`
	Dependencies        []string `json:"dependencies,omitempty"` // titles of other assumptions
	ValidationQuestions []string `json:"validationQuestions,omitempty"`
	Alternatives        []string `json:"alternatives,omitempty"`
}

// Clone returns a deep copy of the assumption.
func (a Assumption) Clone() Assumption {
	out := a
	out.Dependencies = cloneStrings(a.Dependencies)
	out.ValidationQuestions = cloneStrings(a.ValidationQuestions)
	out.Alternatives = cloneStrings(a.Alternatives)
	return out
}

// GenerationSource records which path produced an assumption set.
type GenerationSource string

const (
	SourceGenerated GenerationSource = "generated"
	SourceFallback  GenerationSource = "fallback"
	SourceRefined   GenerationSource = "refined"
)

// GenerationMetadata is the provenance of an assumption set.
type GenerationMetadata struct {
	TriggerReason    string           `json:"triggerReason"`
	Source           GenerationSource `json:"source"`
	Model            string           `json:"model,omitempty"`
	PromptTokens     int64            `json:"promptTokens,omitempty"`
	CompletionTokens int64            `json:"completionTokens,omitempty"`
	LatencyMillis    int64            `json:"latencyMs"`
	GeneratedAt      time.Time        `json:"generatedAt"`
	FallbackCause    string           `json:"fallbackCause,omitempty"`
}

// AssumptionSet is a generated group of assumptions. Sets are never edited in
// place; refinement produces a new set with new ids.
type AssumptionSet struct {
	Assumptions         []Assumption       `json:"assumptions"`
	OverallConfidence   float64            `json:"overallConfidence"`
	MissingCriticalInfo []string           `json:"missingCriticalInfo,omitempty"`
	RecommendedNext     []string           `json:"recommendedNextSteps,omitempty"`
	Metadata            GenerationMetadata `json:"generationMetadata"`
}

// Clone returns a deep copy of the set.
func (s AssumptionSet) Clone() AssumptionSet {
	out := s
	if s.Assumptions != nil {
		out.Assumptions = make([]Assumption, len(s.Assumptions))
		for i, a := range s.Assumptions {
			out.Assumptions[i] = a.Clone()
		}
	}
	out.MissingCriticalInfo = cloneStrings(s.MissingCriticalInfo)
	out.RecommendedNext = cloneStrings(s.RecommendedNext)
	return out
}

// PivotDecision says whether to stop questioning. Assumptions is set only when
// ShouldPivot is true and assumptions were generated.
type PivotDecision struct {
	ShouldPivot bool           `json:"shouldPivot"`
	Reason      string         `json:"pivotReason,omitempty"`
	Trigger     PivotTrigger   `json:"trigger,omitempty"`
	Assumptions *AssumptionSet `json:"assumptions,omitempty"`
}

// PivotTrigger names the rule that fired.
type PivotTrigger string

const (
	TriggerFatigue         PivotTrigger = "fatigue"
	TriggerExpertise       PivotTrigger = "expertise"
	TriggerImpatience      PivotTrigger = "impatience"
	TriggerRedirect        PivotTrigger = "redirect"
	TriggerStalledProgress PivotTrigger = "stalled-progress"
	TriggerLowEngagement   PivotTrigger = "low-engagement"
	TriggerExplicitRequest PivotTrigger = "explicit-request"
)

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
