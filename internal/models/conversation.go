package models

import (
	"strings"
	"time"
)

// SophisticationLevel is the profile-level band of a user's demonstrated expertise.
type SophisticationLevel string

const (
	SophisticationNovice       SophisticationLevel = "novice"
	SophisticationIntermediate SophisticationLevel = "intermediate"
	SophisticationAdvanced     SophisticationLevel = "advanced"
	SophisticationExpert       SophisticationLevel = "expert"
)

// EngagementPattern summarizes how a user has been participating recently.
type EngagementPattern string

const (
	EngagementEngaged    EngagementPattern = "engaged"
	EngagementModerate   EngagementPattern = "moderate"
	EngagementDisengaged EngagementPattern = "disengaged"
)

// UserProfile is what the engine has inferred about the person being interviewed.
type UserProfile struct {
	Role                string              `json:"role,omitempty"`
	SophisticationLevel SophisticationLevel `json:"sophistication_level,omitempty"`
	EngagementPattern   EngagementPattern   `json:"engagement_pattern,omitempty"`
	DomainKnowledge     []string            `json:"domain_knowledge,omitempty"`
}

// ConversationExchange is one answered turn. Immutable once appended to history.
type ConversationExchange struct {
	Utterance string           `json:"utterance"`
	Analysis  ResponseAnalysis `json:"analysis"`
	Question  *Question        `json:"question,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Stage     Stage            `json:"stage"`
}

// ConversationContext is the value threaded through every pipeline step.
// Each step returns an updated copy; no step mutates its input.
type ConversationContext struct {
	SessionID       string                 `json:"session_id"`
	Domain          string                 `json:"domain"`
	Stage           Stage                  `json:"stage"`
	Profile         UserProfile            `json:"profile"`
	History         []ConversationExchange `json:"history,omitempty"`
	CurrentQuestion *Question              `json:"current_question,omitempty"`
	CurrentStyle    StyleProfile           `json:"current_style,omitempty"`
	LastUpdated     time.Time              `json:"last_updated"`
}

// Validate checks the fields every pipeline step depends on.
func (c ConversationContext) Validate() error {
	if strings.TrimSpace(c.Domain) == "" {
		return NewValidationError("context.domain", ErrMissingDomain)
	}
	if c.Stage == "" {
		return NewValidationError("context.stage", ErrMissingStage)
	}
	if !IsValidStage(c.Stage) {
		return NewValidationError("context.stage", ErrUnknownStage)
	}
	return nil
}

// Clone returns a deep copy of the context.
func (c ConversationContext) Clone() ConversationContext {
	out := c
	if c.History != nil {
		out.History = make([]ConversationExchange, len(c.History))
		for i, ex := range c.History {
			out.History[i] = ex.clone()
		}
	}
	if c.Profile.DomainKnowledge != nil {
		out.Profile.DomainKnowledge = append([]string(nil), c.Profile.DomainKnowledge...)
	}
	if c.CurrentQuestion != nil {
		q := c.CurrentQuestion.Clone()
		out.CurrentQuestion = &q
	}
	return out
}

// RecentExchanges returns up to n of the most recent exchanges, oldest first.
func (c ConversationContext) RecentExchanges(n int) []ConversationExchange {
	if n <= 0 || len(c.History) == 0 {
		return nil
	}
	if n > len(c.History) {
		n = len(c.History)
	}
	return c.History[len(c.History)-n:]
}

func (ex ConversationExchange) clone() ConversationExchange {
	out := ex
	out.Analysis = ex.Analysis.Clone()
	if ex.Question != nil {
		q := ex.Question.Clone()
		out.Question = &q
	}
	return out
}

// Question is a generated next question, shaped by a style profile.
type Question struct {
	Text               string       `json:"question"`
	Rationale          string       `json:"rationale,omitempty"`
	ExpectedAnswerType string       `json:"expected_answer_type,omitempty"`
	Examples           []string     `json:"examples,omitempty"`
	Style              StyleProfile `json:"style,omitempty"`
	Stage              Stage        `json:"stage,omitempty"`
	Temperature        float64      `json:"temperature,omitempty"`
	GeneratedAt        time.Time    `json:"generated_at"`
}

// Clone returns a deep copy of the question.
func (q Question) Clone() Question {
	out := q
	if q.Examples != nil {
		out.Examples = append([]string(nil), q.Examples...)
	}
	return out
}
