package models

import "time"

// Sentiment tags the overall affect of an utterance.
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
)

// SophisticationBreakdown decomposes demonstrated expertise. Fields are
// independent 0-1 scores and need not average to the top-level score.
type SophisticationBreakdown struct {
	TechnicalVocabulary float64 `json:"technicalVocabulary"`
	DomainKnowledge     float64 `json:"domainKnowledge"`
	ConceptualDepth     float64 `json:"conceptualDepth"`
	Specificity         float64 `json:"specificity"`
	SystemsThinking     float64 `json:"systemsThinking"`
}

// Values returns the five fields in declaration order.
func (b SophisticationBreakdown) Values() [5]float64 {
	return [5]float64{b.TechnicalVocabulary, b.DomainKnowledge, b.ConceptualDepth, b.Specificity, b.SystemsThinking}
}

// ClarityMetrics decomposes how clearly an utterance communicates.
type ClarityMetrics struct {
	Articulation  float64 `json:"articulation"`
	Specificity   float64 `json:"specificity"`
	Coherence     float64 `json:"coherence"`
	Completeness  float64 `json:"completeness"`
	Actionability float64 `json:"actionability"`
}

// Values returns the five fields in declaration order.
func (m ClarityMetrics) Values() [5]float64 {
	return [5]float64{m.Articulation, m.Specificity, m.Coherence, m.Completeness, m.Actionability}
}

// EngagementMetrics decomposes how a user is participating.
type EngagementMetrics struct {
	Enthusiasm          float64 `json:"enthusiasm"`
	Elaboration         float64 `json:"elaboration"`
	Responsiveness      float64 `json:"responsiveness"`
	Curiosity           float64 `json:"curiosity"`
	CollaborativeSpirit float64 `json:"collaborativeSpirit"`
}

// Values returns the five fields in declaration order.
func (m EngagementMetrics) Values() [5]float64 {
	return [5]float64{m.Enthusiasm, m.Elaboration, m.Responsiveness, m.Curiosity, m.CollaborativeSpirit}
}

// FatigueSignal indicates the user is tiring of questions.
type FatigueSignal struct {
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
	Severity   string  `json:"severity,omitempty"` // mild | moderate | severe
}

// ExpertiseSignal indicates the user already knows the ground being covered.
type ExpertiseSignal struct {
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
	SkipLevel  string  `json:"skipLevel,omitempty"` // intermediate | advanced
}

// ImpatienceSignal indicates the user wants to move faster.
type ImpatienceSignal struct {
	Detected     bool    `json:"detected"`
	Confidence   float64 `json:"confidence"`
	UrgencyLevel string  `json:"urgencyLevel,omitempty"` // low | moderate | high
}

// ConfusionSignal indicates the user did not follow the question.
type ConfusionSignal struct {
	Detected      bool    `json:"detected"`
	Confidence    float64 `json:"confidence"`
	ConfusionArea string  `json:"confusionArea,omitempty"`
}

// RedirectSignal indicates the user asked to go somewhere else.
type RedirectSignal struct {
	Detected    bool    `json:"detected"`
	Confidence  float64 `json:"confidence"`
	Destination string  `json:"destination,omitempty"`
}

// EscapeSignalSet holds the five independent escape signals. More than one may be detected.
type EscapeSignalSet struct {
	Fatigue    FatigueSignal    `json:"fatigue"`
	Expertise  ExpertiseSignal  `json:"expertise"`
	Impatience ImpatienceSignal `json:"impatience"`
	Confusion  ConfusionSignal  `json:"confusion"`
	Redirect   RedirectSignal   `json:"redirect"`
}

// AnyDetected reports whether at least one signal fired.
func (s EscapeSignalSet) AnyDetected() bool {
	return s.Fatigue.Detected || s.Expertise.Detected || s.Impatience.Detected ||
		s.Confusion.Detected || s.Redirect.Detected
}

// AnalysisConfidence is the analyzer's self-reported confidence per field group.
type AnalysisConfidence struct {
	Sophistication float64 `json:"sophistication"`
	Engagement     float64 `json:"engagement"`
	Clarity        float64 `json:"clarity"`
	EscapeSignals  float64 `json:"escapeSignals"`
	Overall        float64 `json:"overall"`
}

// ResponseAnalysis is the multi-dimensional reading of one utterance.
type ResponseAnalysis struct {
	SophisticationScore     float64                 `json:"sophisticationScore"`
	EngagementLevel         float64                 `json:"engagementLevel"`
	ClarityScore            float64                 `json:"clarityScore"`
	ConfidenceLevel         float64                 `json:"confidenceLevel"`
	RelevanceScore          float64                 `json:"relevanceScore"`
	SophisticationBreakdown SophisticationBreakdown `json:"sophisticationBreakdown"`
	ClarityMetrics          ClarityMetrics          `json:"clarityMetrics"`
	EngagementMetrics       EngagementMetrics       `json:"engagementMetrics"`
	EscapeSignals           EscapeSignalSet         `json:"escapeSignals"`
	Entities                []string                `json:"extractedEntities,omitempty"`
	Sentiment               Sentiment               `json:"sentiment,omitempty"`
	Confidence              AnalysisConfidence      `json:"analysisConfidence"`
	AnalyzedAt              time.Time               `json:"analyzedAt"`
}

// Clone returns a deep copy of the analysis.
func (a ResponseAnalysis) Clone() ResponseAnalysis {
	out := a
	if a.Entities != nil {
		out.Entities = append([]string(nil), a.Entities...)
	}
	return out
}

// Clamped returns a copy with every scalar and breakdown field forced into [0,1].
func (a ResponseAnalysis) Clamped() ResponseAnalysis {
	out := a.Clone()
	out.SophisticationScore = Clamp01(a.SophisticationScore)
	out.EngagementLevel = Clamp01(a.EngagementLevel)
	out.ClarityScore = Clamp01(a.ClarityScore)
	out.ConfidenceLevel = Clamp01(a.ConfidenceLevel)
	out.RelevanceScore = Clamp01(a.RelevanceScore)

	b := &out.SophisticationBreakdown
	b.TechnicalVocabulary = Clamp01(b.TechnicalVocabulary)
	b.DomainKnowledge = Clamp01(b.DomainKnowledge)
	b.ConceptualDepth = Clamp01(b.ConceptualDepth)
	b.Specificity = Clamp01(b.Specificity)
	b.SystemsThinking = Clamp01(b.SystemsThinking)

	c := &out.ClarityMetrics
	c.Articulation = Clamp01(c.Articulation)
	c.Specificity = Clamp01(c.Specificity)
	c.Coherence = Clamp01(c.Coherence)
	c.Completeness = Clamp01(c.Completeness)
	c.Actionability = Clamp01(c.Actionability)

	e := &out.EngagementMetrics
	e.Enthusiasm = Clamp01(e.Enthusiasm)
	e.Elaboration = Clamp01(e.Elaboration)
	e.Responsiveness = Clamp01(e.Responsiveness)
	e.Curiosity = Clamp01(e.Curiosity)
	e.CollaborativeSpirit = Clamp01(e.CollaborativeSpirit)

	s := &out.EscapeSignals
	s.Fatigue.Confidence = Clamp01(s.Fatigue.Confidence)
	s.Expertise.Confidence = Clamp01(s.Expertise.Confidence)
	s.Impatience.Confidence = Clamp01(s.Impatience.Confidence)
	s.Confusion.Confidence = Clamp01(s.Confusion.Confidence)
	s.Redirect.Confidence = Clamp01(s.Redirect.Confidence)

	conf := &out.Confidence
	conf.Sophistication = Clamp01(conf.Sophistication)
	conf.Engagement = Clamp01(conf.Engagement)
	conf.Clarity = Clamp01(conf.Clarity)
	conf.EscapeSignals = Clamp01(conf.EscapeSignals)
	conf.Overall = Clamp01(conf.Overall)
	return out
}

// Clamp01 forces v into [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
