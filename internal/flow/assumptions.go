package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ElicitPipe/internal/genai"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// Generation settings and fallback constants for assumption synthesis.
const (
	assumptionTemperature = 0.4
	assumptionMaxTokens   = 3000
	fallbackConfidence    = 0.6
)

// assumptionPayload is the per-entry generation schema.
type assumptionPayload struct {
	Category            string   `json:"category"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Confidence          float64  `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	Impact              string   `json:"impact"`
	Dependencies        []string `json:"dependencies"`
	ValidationQuestions []string `json:"validationQuestions"`
	Alternatives        []string `json:"alternatives"`
}

// assumptionResponse is the generation schema for assumption calls.
type assumptionResponse struct {
	Assumptions          []assumptionPayload `json:"assumptions"`
	OverallConfidence    float64             `json:"overallConfidence"`
	MissingCriticalInfo  []string            `json:"missingCriticalInfo"`
	RecommendedNextSteps []string            `json:"recommendedNextSteps"`
}

// AssumptionGenerator synthesises assumption sets when questioning stops.
type AssumptionGenerator struct {
	gen   genai.Generator
	newID func() string
}

// NewAssumptionGenerator creates an AssumptionGenerator over the given generator.
func NewAssumptionGenerator(gen genai.Generator) *AssumptionGenerator {
	return &AssumptionGenerator{gen: gen, newID: uuid.NewString}
}

// Generate produces an assumption set for cc. Generation failures, timeouts and
// empty results resolve to the domain's deterministic template set; the only
// error returned is a ValidationError for an unusable context.
func (g *AssumptionGenerator) Generate(ctx context.Context, cc models.ConversationContext, analysis models.ResponseAnalysis, reason string) (models.AssumptionSet, error) {
	if err := cc.Validate(); err != nil {
		return models.AssumptionSet{}, err
	}
	domain, err := LookupDomain(cc.Domain)
	if err != nil {
		return models.AssumptionSet{}, err
	}
	slog.Debug("AssumptionGenerator.Generate", "sessionID", cc.SessionID, "domain", cc.Domain, "reason", reason)

	out, err := g.gen.Generate(ctx, buildAssumptionPrompt(cc, analysis, reason, domain), genai.GenerateOptions{
		System:          assumptionSystemPrompt,
		Temperature:     genai.Float(assumptionTemperature),
		MaxOutputTokens: assumptionMaxTokens,
	})
	if err != nil {
		slog.Warn("AssumptionGenerator.Generate: generation failed, using fallback", "sessionID", cc.SessionID, "error", err)
		return g.fallback(cc.Domain, domain, reason, out.Latency, err), nil
	}

	set, err := g.fromResponse(out.Text)
	if err != nil {
		slog.Warn("AssumptionGenerator.Generate: unusable output, using fallback", "sessionID", cc.SessionID, "error", err)
		return g.fallback(cc.Domain, domain, reason, out.Latency, err), nil
	}
	set.Metadata = metadataFrom(out, reason, models.SourceGenerated)
	slog.Info("AssumptionGenerator.Generate succeeded", "sessionID", cc.SessionID, "count", len(set.Assumptions))
	return set, nil
}

// Refine revises set according to feedback with one generation call. Every
// entry of the result gets a new id. On failure the original set is returned
// unchanged and refined is false.
func (g *AssumptionGenerator) Refine(ctx context.Context, set models.AssumptionSet, feedback, domain string) (result models.AssumptionSet, refined bool, err error) {
	req := models.RefineRequest{Feedback: feedback}
	if err := req.Validate(); err != nil {
		return set, false, err
	}
	if len(set.Assumptions) == 0 {
		return set, false, models.NewValidationError("assumptions", models.ErrNoAssumptions)
	}

	out, err := g.gen.Generate(ctx, buildRefinePrompt(set, feedback, domain), genai.GenerateOptions{
		System:          assumptionSystemPrompt,
		Temperature:     genai.Float(assumptionTemperature),
		MaxOutputTokens: assumptionMaxTokens,
	})
	if err != nil {
		slog.Warn("AssumptionGenerator.Refine: generation failed, keeping original set", "error", err)
		return set.Clone(), false, nil
	}
	next, err := g.fromResponse(out.Text)
	if err != nil {
		slog.Warn("AssumptionGenerator.Refine: unusable output, keeping original set", "error", err)
		return set.Clone(), false, nil
	}
	next.Metadata = metadataFrom(out, set.Metadata.TriggerReason, models.SourceRefined)
	slog.Info("AssumptionGenerator.Refine succeeded", "before", len(set.Assumptions), "after", len(next.Assumptions))
	return next, true, nil
}

// fromResponse parses generation output into a set with fresh ids.
func (g *AssumptionGenerator) fromResponse(text string) (models.AssumptionSet, error) {
	parsed, err := genai.ParseJSON[assumptionResponse](text)
	if err != nil {
		return models.AssumptionSet{}, err
	}

	var list []models.Assumption
	for _, p := range parsed.Assumptions {
		if strings.TrimSpace(p.Title) == "" {
			continue
		}
		list = append(list, models.Assumption{
			ID:                  g.newID(),
			Category:            orDefault(p.Category, "general"),
			Title:               strings.TrimSpace(p.Title),
			Description:         p.Description,
			Confidence:          models.Clamp01(p.Confidence),
			Reasoning:           p.Reasoning,
			Impact:              models.NormalizeImpact(strings.ToLower(p.Impact)),
			Dependencies:        p.Dependencies,
			ValidationQuestions: p.ValidationQuestions,
			Alternatives:        p.Alternatives,
		})
	}
	if len(list) == 0 {
		return models.AssumptionSet{}, models.ErrEmptyGeneration
	}
	pruneDependencies(list)

	overall := models.Clamp01(parsed.OverallConfidence)
	if overall == 0 {
		overall = meanConfidence(list)
	}
	return models.AssumptionSet{
		Assumptions:         list,
		OverallConfidence:   overall,
		MissingCriticalInfo: parsed.MissingCriticalInfo,
		RecommendedNext:     parsed.RecommendedNextSteps,
	}, nil
}

// fallback builds the deterministic template set for a domain.
func (g *AssumptionGenerator) fallback(domainTag string, domain DomainProfile, reason string, latency time.Duration, cause error) models.AssumptionSet {
	list := make([]models.Assumption, 0, len(domain.templates))
	for _, t := range domain.templates {
		a := models.Assumption{
			ID:                  g.newID(),
			Category:            t.Category,
			Title:               t.Title,
			Description:         t.Description,
			Confidence:          fallbackConfidence,
			Reasoning:           fmt.Sprintf("Standard %s assumption applied because questioning stopped (%s).", domainTag, reason),
			Impact:              t.Impact,
			Dependencies:        t.Dependencies,
			ValidationQuestions: t.ValidationQuestions,
			Alternatives:        t.Alternatives,
		}
		list = append(list, a.Clone())
	}

	missing := make([]string, 0, len(domain.KeyConcerns))
	for _, c := range domain.KeyConcerns {
		missing = append(missing, "Confirm requirements for "+c)
	}
	set := models.AssumptionSet{
		Assumptions:         list,
		OverallConfidence:   fallbackConfidence,
		MissingCriticalInfo: missing,
		RecommendedNext: []string{
			"Review these assumptions with the user",
			"Answer the validation questions for high-impact assumptions first",
		},
		Metadata: models.GenerationMetadata{
			TriggerReason: reason,
			Source:        models.SourceFallback,
			LatencyMillis: latency.Milliseconds(),
			GeneratedAt:   timeNow(),
		},
	}
	if cause != nil {
		set.Metadata.FallbackCause = cause.Error()
	}
	return set
}

func metadataFrom(out genai.Completion, reason string, source models.GenerationSource) models.GenerationMetadata {
	return models.GenerationMetadata{
		TriggerReason:    reason,
		Source:           source,
		Model:            out.Model,
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
		LatencyMillis:    out.Latency.Milliseconds(),
		GeneratedAt:      timeNow(),
	}
}

// pruneDependencies drops dependency titles that do not name another
// assumption in the same set.
func pruneDependencies(list []models.Assumption) {
	titles := make(map[string]bool, len(list))
	for _, a := range list {
		titles[strings.ToLower(a.Title)] = true
	}
	for i := range list {
		var kept []string
		for _, d := range list[i].Dependencies {
			key := strings.ToLower(strings.TrimSpace(d))
			if titles[key] && key != strings.ToLower(list[i].Title) {
				kept = append(kept, d)
			}
		}
		list[i].Dependencies = kept
	}
}

func meanConfidence(list []models.Assumption) float64 {
	if len(list) == 0 {
		return 0
	}
	var sum float64
	for _, a := range list {
		sum += a.Confidence
	}
	return sum / float64(len(list))
}
