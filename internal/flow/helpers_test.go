package flow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

var testEpoch = time.Date(2031, 2, 3, 10, 0, 0, 0, time.UTC)

// useFixedClock makes timeNow advance one second per call from testEpoch.
func useFixedClock(t *testing.T) {
	t.Helper()
	prev := timeNow
	tick := 0
	timeNow = func() time.Time {
		tick++
		return testEpoch.Add(time.Duration(tick) * time.Second)
	}
	t.Cleanup(func() { timeNow = prev })
}

func testContext(domain string) models.ConversationContext {
	return models.ConversationContext{
		SessionID:   "s_test",
		Domain:      domain,
		Stage:       models.StageIdeaClarity,
		LastUpdated: testEpoch,
	}
}

// neutralAnalysis is a mid-range reading with no escape signals.
func neutralAnalysis() models.ResponseAnalysis {
	return models.ResponseAnalysis{
		SophisticationScore: 0.5,
		EngagementLevel:     0.7,
		ClarityScore:        0.7,
		ConfidenceLevel:     0.6,
		RelevanceScore:      0.8,
		SophisticationBreakdown: models.SophisticationBreakdown{
			TechnicalVocabulary: 0.5, DomainKnowledge: 0.5, ConceptualDepth: 0.5, Specificity: 0.5, SystemsThinking: 0.5,
		},
		ClarityMetrics: models.ClarityMetrics{
			Articulation: 0.7, Specificity: 0.7, Coherence: 0.7, Completeness: 0.7, Actionability: 0.7,
		},
		EngagementMetrics: models.EngagementMetrics{
			Enthusiasm: 0.7, Elaboration: 0.7, Responsiveness: 0.7, Curiosity: 0.6, CollaborativeSpirit: 0.4,
		},
		Sentiment: models.SentimentNeutral,
	}
}

func withBreakdown(a models.ResponseAnalysis, v float64) models.ResponseAnalysis {
	a.SophisticationBreakdown = models.SophisticationBreakdown{
		TechnicalVocabulary: v, DomainKnowledge: v, ConceptualDepth: v, Specificity: v, SystemsThinking: v,
	}
	return a
}

func exchangeWithEngagement(level float64) models.ConversationExchange {
	a := neutralAnalysis()
	a.EngagementLevel = level
	return models.ConversationExchange{Utterance: "ok", Analysis: a, Stage: models.StageIdeaClarity, Timestamp: testEpoch}
}

func analysisJSON(t *testing.T, a models.ResponseAnalysis) string {
	t.Helper()
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal analysis: %v", err)
	}
	return string(data)
}

const questionJSON = `{"question":"Who will use this product every day?","rationale":"establish users","expectedAnswerType":"description","examples":["clinic staff"]}`

const assumptionsJSON = `{
  "assumptions": [
    {"category":"users","title":"Small business owners","description":"Owners run the tool themselves.","confidence":0.8,"reasoning":"mentioned shops","impact":"HIGH","dependencies":[],"validationQuestions":["Is that right?"],"alternatives":["Enterprise"]},
    {"category":"technical","title":"Web first","description":"Browser app before mobile.","confidence":1.7,"reasoning":"desktop workflow","impact":"unknown","dependencies":["Small business owners","Missing thing"]}
  ],
  "overallConfidence": 0,
  "missingCriticalInfo": ["Budget"],
  "recommendedNextSteps": ["Validate users"]
}`
