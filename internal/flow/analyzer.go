package flow

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/BTreeMap/ElicitPipe/internal/genai"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// Generation settings for analysis calls.
const (
	analysisTemperature   = 0.2
	analysisMaxTokens     = 1500
	quickCheckTemperature = 0.1
	quickCheckMaxTokens   = 300
	lexicalConfidence     = 0.3
)

// analysisRequiredFields must appear in every analysis the model returns.
// Missing scores are a generation failure, never zeros.
var analysisRequiredFields = []string{
	"sophisticationScore", "engagementLevel", "clarityScore", "confidenceLevel", "relevanceScore", "escapeSignals",
}

// ResponseAnalyzer scores one utterance with a single generation call.
type ResponseAnalyzer struct {
	gen genai.Generator
}

// NewResponseAnalyzer creates a ResponseAnalyzer over the given generator.
func NewResponseAnalyzer(gen genai.Generator) *ResponseAnalyzer {
	return &ResponseAnalyzer{gen: gen}
}

// Analyze scores utterance in the context of cc. Generation or parse failures
// return a GenerationError; there is no synthetic fallback.
func (a *ResponseAnalyzer) Analyze(ctx context.Context, utterance string, cc models.ConversationContext) (models.ResponseAnalysis, error) {
	if err := models.ValidateUtterance(utterance); err != nil {
		return models.ResponseAnalysis{}, err
	}
	if err := cc.Validate(); err != nil {
		return models.ResponseAnalysis{}, err
	}
	slog.Debug("ResponseAnalyzer.Analyze", "sessionID", cc.SessionID, "domain", cc.Domain, "stage", cc.Stage, "history", len(cc.History))

	out, err := a.gen.Generate(ctx, buildAnalysisPrompt(utterance, cc), genai.GenerateOptions{
		System:          analysisSystemPrompt,
		Temperature:     genai.Float(analysisTemperature),
		MaxOutputTokens: analysisMaxTokens,
	})
	if err != nil {
		slog.Error("ResponseAnalyzer.Analyze: generation failed", "sessionID", cc.SessionID, "error", err)
		return models.ResponseAnalysis{}, models.NewGenerationError("analyze_response", err)
	}

	parsed, err := genai.ParseJSONFields[models.ResponseAnalysis](out.Text, analysisRequiredFields...)
	if err != nil {
		slog.Error("ResponseAnalyzer.Analyze: parse failed", "sessionID", cc.SessionID, "raw", formatRawForLog(out.Text), "error", err)
		return models.ResponseAnalysis{}, models.NewGenerationError("analyze_response", err)
	}

	analysis := parsed.Clamped()
	analysis.Sentiment = normalizeSentiment(analysis.Sentiment)
	analysis.AnalyzedAt = timeNow()
	slog.Debug("ResponseAnalyzer.Analyze succeeded", "sessionID", cc.SessionID,
		"sophistication", analysis.SophisticationScore, "engagement", analysis.EngagementLevel,
		"escape", analysis.EscapeSignals.AnyDetected())
	return analysis, nil
}

// quickCheckResult is the generation schema for QuickSophisticationCheck.
type quickCheckResult struct {
	Level      string   `json:"level"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators"`
}

// QuickSophisticationCheck returns a lightweight sophistication hint. On any
// generation failure it falls back to a lexical estimate at low confidence.
func (a *ResponseAnalyzer) QuickSophisticationCheck(ctx context.Context, utterance, domain string) (models.QuickSophistication, error) {
	if err := models.ValidateUtterance(utterance); err != nil {
		return models.QuickSophistication{}, err
	}

	out, err := a.gen.Generate(ctx, buildQuickCheckPrompt(utterance, domain), genai.GenerateOptions{
		Temperature:     genai.Float(quickCheckTemperature),
		MaxOutputTokens: quickCheckMaxTokens,
	})
	if err != nil {
		slog.Warn("ResponseAnalyzer.QuickSophisticationCheck: generation failed, using lexical estimate", "error", err)
		return lexicalSophistication(utterance, domain), nil
	}
	parsed, err := genai.ParseJSONFields[quickCheckResult](out.Text, "level", "confidence")
	if err != nil {
		slog.Warn("ResponseAnalyzer.QuickSophisticationCheck: parse failed, using lexical estimate", "error", err)
		return lexicalSophistication(utterance, domain), nil
	}
	level, ok := parseSophisticationLevel(parsed.Level)
	if !ok {
		slog.Warn("ResponseAnalyzer.QuickSophisticationCheck: unknown level, using lexical estimate", "level", parsed.Level)
		return lexicalSophistication(utterance, domain), nil
	}
	return models.QuickSophistication{
		Level:      level,
		Confidence: models.Clamp01(parsed.Confidence),
		Indicators: parsed.Indicators,
	}, nil
}

func parseSophisticationLevel(s string) (models.SophisticationLevel, bool) {
	switch l := models.SophisticationLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case models.SophisticationNovice, models.SophisticationIntermediate, models.SophisticationAdvanced, models.SophisticationExpert:
		return l, true
	}
	return "", false
}

func normalizeSentiment(s models.Sentiment) models.Sentiment {
	switch l := models.Sentiment(strings.ToLower(string(s))); l {
	case models.SentimentPositive, models.SentimentNegative, models.SentimentFrustrated, models.SentimentNeutral:
		return l
	}
	return models.SentimentNeutral
}

// technicalTerms are general software vocabulary counted by the lexical estimate.
var technicalTerms = []string{
	"api", "architecture", "authentication", "authorization", "backend", "cache", "ci/cd",
	"compliance", "database", "deployment", "encryption", "endpoint", "frontend", "integration",
	"kubernetes", "latency", "microservice", "middleware", "oauth", "orm", "pipeline", "postgres",
	"protocol", "queue", "rest", "scalability", "schema", "sdk", "sql", "throughput", "webhook",
}

// lexicalSophistication estimates sophistication from technical-term density.
func lexicalSophistication(utterance, domain string) models.QuickSophistication {
	words := strings.FieldsFunc(strings.ToLower(utterance), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '/' && r != '-'
	})
	if len(words) == 0 {
		return models.QuickSophistication{Level: models.SophisticationNovice, Confidence: lexicalConfidence}
	}

	vocab := make(map[string]struct{}, len(technicalTerms))
	for _, t := range technicalTerms {
		vocab[t] = struct{}{}
	}
	if p, err := LookupDomain(domain); err == nil {
		for _, concern := range p.KeyConcerns {
			for _, w := range strings.Fields(strings.ToLower(concern)) {
				if len(w) > 3 {
					vocab[w] = struct{}{}
				}
			}
		}
	}

	var indicators []string
	seen := make(map[string]bool)
	hits := 0
	for _, w := range words {
		if _, ok := vocab[w]; ok {
			hits++
			if !seen[w] {
				seen[w] = true
				indicators = append(indicators, w)
			}
		}
	}

	density := float64(hits) / float64(len(words))
	level := models.SophisticationNovice
	switch {
	case density >= 0.15:
		level = models.SophisticationExpert
	case density >= 0.08:
		level = models.SophisticationAdvanced
	case density >= 0.03:
		level = models.SophisticationIntermediate
	}
	return models.QuickSophistication{Level: level, Confidence: lexicalConfidence, Indicators: indicators}
}
