// Package models defines the core data structures for ElicitPipe.
//
// It includes the conversation context and state types shared across the
// analysis, pivot, style, and assumption components, plus the API envelope
// used by the HTTP and MCP surfaces.
package models

import (
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxUtteranceLength defines the maximum allowed length for a single user utterance
	MaxUtteranceLength = 8192
	// MaxFeedbackLength defines the maximum allowed length for assumption refinement feedback
	MaxFeedbackLength = 4096
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusPivoted indicates a turn ended questioning and produced assumptions.
	APIStatusPivoted APIStatus = "pivoted"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status    string      `json:"status"`               // status of the API response
	Message   string      `json:"message,omitempty"`    // optional message for error responses or additional info
	ErrorKind ErrorKind   `json:"error_kind,omitempty"` // taxonomy kind for failed turns
	Result    interface{} `json:"result,omitempty"`     // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithErrorKind sets the error taxonomy kind of the API response.
func (b *APIResponseBuilder) WithErrorKind(kind ErrorKind) *APIResponseBuilder {
	b.response.ErrorKind = kind
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Pivoted creates a response for a turn that short-circuited into assumptions.
func Pivoted(reason string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusPivoted).
		WithMessage(reason).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// ErrorFrom creates an error API response classified by the error taxonomy.
func ErrorFrom(err error) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithErrorKind(ErrorKindOf(err)).
		WithMessage(err.Error()).
		Build()
}

// StartSessionRequest represents the payload for starting a discovery session.
type StartSessionRequest struct {
	Domain    string      `json:"domain"`
	Profile   UserProfile `json:"profile,omitempty"`
	Recipient string      `json:"recipient,omitempty"` // optional phone number for outbound delivery
}

// Validate checks that the request names a domain.
func (r *StartSessionRequest) Validate() error {
	if strings.TrimSpace(r.Domain) == "" {
		return NewValidationError("domain", ErrMissingDomain)
	}
	return nil
}

// TurnRequest represents the payload for submitting one user utterance.
type TurnRequest struct {
	Utterance string `json:"utterance"`
}

// Validate checks the utterance is present and bounded.
func (r *TurnRequest) Validate() error {
	return ValidateUtterance(r.Utterance)
}

// StageTransitionRequest represents the payload for advancing a session's stage.
type StageTransitionRequest struct {
	Stage Stage `json:"stage"`
}

// Validate checks the requested stage is known.
func (r *StageTransitionRequest) Validate() error {
	if !IsValidStage(r.Stage) {
		return NewValidationError("stage", ErrUnknownStage)
	}
	return nil
}

// RefineRequest represents the payload for refining a session's latest assumption set.
type RefineRequest struct {
	Feedback string `json:"feedback"`
}

// Validate checks the feedback is present and bounded.
func (r *RefineRequest) Validate() error {
	if strings.TrimSpace(r.Feedback) == "" {
		return NewValidationError("feedback", ErrEmptyFeedback)
	}
	if len(r.Feedback) > MaxFeedbackLength {
		return NewValidationError("feedback", ErrFeedbackTooLong)
	}
	return nil
}

// ValidateUtterance checks an utterance is non-empty and within MaxUtteranceLength.
func ValidateUtterance(utterance string) error {
	if strings.TrimSpace(utterance) == "" {
		return NewValidationError("utterance", ErrEmptyUtterance)
	}
	if len(utterance) > MaxUtteranceLength {
		return NewValidationError("utterance", ErrUtteranceTooLong)
	}
	return nil
}

// TimeWindow is an optional [From, To) filter on session creation time.
// Zero values leave that side of the window open.
type TimeWindow struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Validate rejects a window whose bounds are both set and out of order.
func (w TimeWindow) Validate() error {
	if !w.From.IsZero() && !w.To.IsZero() && !w.From.Before(w.To) {
		return NewValidationError("window", ErrInvalidWindow)
	}
	return nil
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}
