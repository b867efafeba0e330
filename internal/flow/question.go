package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ElicitPipe/internal/genai"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

const questionMaxTokens = 600

// questionPayload is the generation schema for question calls.
type questionPayload struct {
	Question           string   `json:"question"`
	Rationale          string   `json:"rationale"`
	ExpectedAnswerType string   `json:"expectedAnswerType"`
	Examples           []string `json:"examples"`
}

// QuestionGenerator produces the next question in a given style.
type QuestionGenerator struct {
	gen genai.Generator
}

// NewQuestionGenerator creates a QuestionGenerator over the given generator.
func NewQuestionGenerator(gen genai.Generator) *QuestionGenerator {
	return &QuestionGenerator{gen: gen}
}

// Generate asks for one question shaped by style at the style's temperature.
// Failures surface as GenerationError; there is no fallback question.
func (q *QuestionGenerator) Generate(ctx context.Context, cc models.ConversationContext, style models.StyleProfile) (models.Question, error) {
	if err := cc.Validate(); err != nil {
		return models.Question{}, err
	}
	if cc.Stage == models.StageCompleted {
		return models.Question{}, models.NewStateError(cc.SessionID, models.ErrSessionCompleted)
	}
	chars, err := StyleFor(style)
	if err != nil {
		return models.Question{}, err
	}
	domain, err := LookupDomain(cc.Domain)
	if err != nil {
		return models.Question{}, err
	}

	out, err := q.gen.Generate(ctx, buildQuestionPrompt(cc, chars, domain), genai.GenerateOptions{
		System:          questionSystemPrompt,
		Temperature:     genai.Float(chars.Temperature),
		MaxOutputTokens: questionMaxTokens,
	})
	if err != nil {
		slog.Error("QuestionGenerator.Generate: generation failed", "sessionID", cc.SessionID, "style", style, "error", err)
		return models.Question{}, models.NewGenerationError("generate_question", err)
	}
	parsed, err := genai.ParseJSON[questionPayload](out.Text)
	if err != nil {
		slog.Error("QuestionGenerator.Generate: parse failed", "sessionID", cc.SessionID, "raw", formatRawForLog(out.Text), "error", err)
		return models.Question{}, models.NewGenerationError("generate_question", err)
	}
	if strings.TrimSpace(parsed.Question) == "" {
		return models.Question{}, models.NewGenerationError("generate_question", models.ErrEmptyGeneration)
	}

	slog.Debug("QuestionGenerator.Generate succeeded", "sessionID", cc.SessionID, "style", style, "stage", cc.Stage)
	return models.Question{
		Text:               strings.TrimSpace(parsed.Question),
		Rationale:          parsed.Rationale,
		ExpectedAnswerType: parsed.ExpectedAnswerType,
		Examples:           parsed.Examples,
		Style:              style,
		Stage:              cc.Stage,
		Temperature:        chars.Temperature,
		GeneratedAt:        timeNow(),
	}, nil
}
