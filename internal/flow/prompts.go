package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

const analysisSystemPrompt = `You analyse answers given during a product requirements interview.
Respond with a single JSON object and nothing else. Every score is a number between 0 and 1.`

const analysisSchema = `{
  "sophisticationScore": 0.0,
  "engagementLevel": 0.0,
  "clarityScore": 0.0,
  "confidenceLevel": 0.0,
  "relevanceScore": 0.0,
  "sophisticationBreakdown": {"technicalVocabulary": 0.0, "domainKnowledge": 0.0, "conceptualDepth": 0.0, "specificity": 0.0, "systemsThinking": 0.0},
  "clarityMetrics": {"articulation": 0.0, "specificity": 0.0, "coherence": 0.0, "completeness": 0.0, "actionability": 0.0},
  "engagementMetrics": {"enthusiasm": 0.0, "elaboration": 0.0, "responsiveness": 0.0, "curiosity": 0.0, "collaborativeSpirit": 0.0},
  "escapeSignals": {
    "fatigue": {"detected": false, "confidence": 0.0, "severity": "mild|moderate|severe"},
    "expertise": {"detected": false, "confidence": 0.0, "skipLevel": "intermediate|advanced"},
    "impatience": {"detected": false, "confidence": 0.0, "urgencyLevel": "low|moderate|high"},
    "confusion": {"detected": false, "confidence": 0.0, "confusionArea": ""},
    "redirect": {"detected": false, "confidence": 0.0, "destination": ""}
  },
  "extractedEntities": [],
  "sentiment": "positive|neutral|negative|frustrated",
  "analysisConfidence": {"sophistication": 0.0, "engagement": 0.0, "clarity": 0.0, "escapeSignals": 0.0, "overall": 0.0}
}`

// buildAnalysisPrompt embeds the domain, stage, profile and the last two exchanges.
func buildAnalysisPrompt(utterance string, cc models.ConversationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain: %s\n", cc.Domain)
	fmt.Fprintf(&b, "Current stage: %s\n", cc.Stage)
	writeProfile(&b, cc.Profile)
	if cc.CurrentQuestion != nil {
		fmt.Fprintf(&b, "Question asked: %s\n", cc.CurrentQuestion.Text)
	}
	writeExchanges(&b, cc.RecentExchanges(2))
	fmt.Fprintf(&b, "\nUser response:\n%q\n\n", utterance)
	b.WriteString("Score the response and detect escape signals (fatigue, expertise, impatience, confusion, redirect requests).\n")
	b.WriteString("Return JSON with exactly this shape:\n")
	b.WriteString(analysisSchema)
	return b.String()
}

// buildQuickCheckPrompt asks only for a sophistication level.
func buildQuickCheckPrompt(utterance, domain string) string {
	return fmt.Sprintf(`Domain: %s
User response: %q

Classify the user's demonstrated sophistication as novice, intermediate, advanced or expert.
Return JSON: {"level": "novice|intermediate|advanced|expert", "confidence": 0.0, "indicators": ["..."]}`, domain, utterance)
}

const questionSystemPrompt = `You are a product discovery interviewer. Ask exactly one question at a time.
Respond with a single JSON object and nothing else.`

// buildQuestionPrompt shapes the next question with the style's modifiers.
func buildQuestionPrompt(cc models.ConversationContext, style StyleCharacteristics, domain DomainProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain: %s (key concerns: %s)\n", cc.Domain, strings.Join(domain.KeyConcerns, ", "))
	fmt.Fprintf(&b, "Stage: %s\n", cc.Stage)
	writeProfile(&b, cc.Profile)
	writeExchanges(&b, cc.RecentExchanges(3))

	fmt.Fprintf(&b, "\nQuestioning style: %s\n", style.Name)
	fmt.Fprintf(&b, "Tone: %s\n", style.Modifiers.Tone)
	fmt.Fprintf(&b, "Structure: %s\n", style.Modifiers.Structure)
	fmt.Fprintf(&b, "Focus: %s\n", style.Modifiers.Focus)
	if len(style.Modifiers.Constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range style.Modifiers.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	fmt.Fprintf(&b, "Complexity: %s, pace: %s, terminology: %s, depth: %s\n",
		style.Complexity, style.Pace, style.Terminology, style.Depth)

	b.WriteString("\nAsk the single most useful next question for this stage.\n")
	b.WriteString(`Return JSON: {"question": "...", "rationale": "...", "expectedAnswerType": "...", "examples": ["..."]}`)
	return b.String()
}

const assumptionSystemPrompt = `You turn partial product interviews into explicit working assumptions.
Respond with a single JSON object and nothing else.`

const assumptionSchema = `{
  "assumptions": [
    {"category": "business|users|technical|integration|compliance|security",
     "title": "...", "description": "...", "confidence": 0.0, "reasoning": "...",
     "impact": "low|medium|high", "dependencies": ["<title of another assumption>"],
     "validationQuestions": ["..."], "alternatives": ["..."]}
  ],
  "overallConfidence": 0.0,
  "missingCriticalInfo": ["..."],
  "recommendedNextSteps": ["..."]
}`

// buildAssumptionPrompt summarises the full exchange history.
func buildAssumptionPrompt(cc models.ConversationContext, analysis models.ResponseAnalysis, reason string, domain DomainProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain: %s (key concerns: %s)\n", cc.Domain, strings.Join(domain.KeyConcerns, ", "))
	fmt.Fprintf(&b, "Stage reached: %s\n", cc.Stage)
	fmt.Fprintf(&b, "Questioning stopped because: %s\n", reason)
	writeProfile(&b, cc.Profile)
	fmt.Fprintf(&b, "Latest sophistication: %.2f, engagement: %.2f\n", analysis.SophisticationScore, analysis.EngagementLevel)
	writeExchanges(&b, cc.History)
	b.WriteString("\nProduce the working assumptions needed to continue without further questions.\n")
	b.WriteString("Return JSON with exactly this shape:\n")
	b.WriteString(assumptionSchema)
	return b.String()
}

// buildRefinePrompt asks for a revised set given user feedback.
func buildRefinePrompt(set models.AssumptionSet, feedback, domain string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain: %s\n\nCurrent assumptions:\n", domain)
	for i, a := range set.Assumptions {
		fmt.Fprintf(&b, "%d. [%s] %s (confidence %.2f, impact %s): %s\n", i+1, a.Category, a.Title, a.Confidence, a.Impact, a.Description)
	}
	fmt.Fprintf(&b, "\nUser feedback:\n%q\n\n", feedback)
	b.WriteString("Revise the set: add, modify or remove assumptions so they reflect the feedback. Keep unaffected assumptions.\n")
	b.WriteString("Return JSON with exactly this shape:\n")
	b.WriteString(assumptionSchema)
	return b.String()
}

func writeProfile(b *strings.Builder, p models.UserProfile) {
	if p.Role != "" {
		fmt.Fprintf(b, "User role: %s\n", p.Role)
	}
	if p.SophisticationLevel != "" {
		fmt.Fprintf(b, "User sophistication: %s\n", p.SophisticationLevel)
	}
	if p.EngagementPattern != "" {
		fmt.Fprintf(b, "User engagement: %s\n", p.EngagementPattern)
	}
	if len(p.DomainKnowledge) > 0 {
		fmt.Fprintf(b, "Known domain knowledge: %s\n", strings.Join(p.DomainKnowledge, "; "))
	}
}

func writeExchanges(b *strings.Builder, exchanges []models.ConversationExchange) {
	if len(exchanges) == 0 {
		return
	}
	b.WriteString("\nPrevious exchanges:\n")
	for _, ex := range exchanges {
		if ex.Question != nil {
			fmt.Fprintf(b, "Q (%s): %s\n", ex.Stage, ex.Question.Text)
		}
		fmt.Fprintf(b, "A: %s\n", ex.Utterance)
	}
}
