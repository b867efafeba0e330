package models

import (
	"errors"
	"fmt"
)

// ErrorKind names a class in the error taxonomy surfaced to callers.
type ErrorKind string

const (
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindGeneration    ErrorKind = "generation"
	ErrorKindState         ErrorKind = "state"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindInternal      ErrorKind = "internal"
)

// Error variables for better error handling and testability
var (
	ErrEmptyUtterance    = errors.New("utterance cannot be empty")
	ErrUtteranceTooLong  = errors.New("utterance exceeds maximum length")
	ErrEmptySessionID    = errors.New("session id cannot be empty")
	ErrMissingDomain     = errors.New("context domain is required")
	ErrMissingStage      = errors.New("context stage is required")
	ErrMissingContext    = errors.New("conversation context is required")
	ErrMissingAnalysis   = errors.New("response analysis is required")
	ErrEmptyFeedback     = errors.New("feedback cannot be empty")
	ErrFeedbackTooLong   = errors.New("feedback exceeds maximum length")
	ErrUnknownStage      = errors.New("unknown stage")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrSessionCompleted  = errors.New("session already completed")
	ErrNoAssumptions     = errors.New("session has no assumption set to refine")
	ErrUnknownStyle      = errors.New("unknown style profile")
	ErrUnknownDomain     = errors.New("unknown domain profile")
	ErrEmptyGeneration   = errors.New("generation returned no usable content")
	ErrInvalidWindow     = errors.New("window start must be before its end")
	ErrMissingRecipient  = errors.New("recipient is required")
)

// ValidationError reports missing or malformed caller input.
type ValidationError struct {
	Field string
	Err   error
}

// NewValidationError creates a ValidationError for the named field.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Kind returns ErrorKindValidation.
func (e *ValidationError) Kind() ErrorKind { return ErrorKindValidation }

// GenerationError reports a failed, timed out, or unparseable text-generation call.
type GenerationError struct {
	Op  string // call site, e.g. "analyze_response"
	Err error
}

// NewGenerationError creates a GenerationError for the given call site.
func NewGenerationError(op string, err error) *GenerationError {
	return &GenerationError{Op: op, Err: err}
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed during %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Kind returns ErrorKindGeneration.
func (e *GenerationError) Kind() ErrorKind { return ErrorKindGeneration }

// StateError reports a missing session or an invalid stage transition.
type StateError struct {
	SessionID string
	From      Stage
	To        Stage
	Err       error
}

// NewStateError creates a StateError for the given session.
func NewStateError(sessionID string, err error) *StateError {
	return &StateError{SessionID: sessionID, Err: err}
}

// NewTransitionError creates a StateError describing a rejected transition.
func NewTransitionError(sessionID string, from, to Stage) *StateError {
	return &StateError{SessionID: sessionID, From: from, To: to, Err: ErrInvalidTransition}
}

func (e *StateError) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("session %s: %v: %s -> %s", e.SessionID, e.Err, e.From, e.To)
	}
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// Kind returns ErrorKindState.
func (e *StateError) Kind() ErrorKind { return ErrorKindState }

// ConfigurationError reports a malformed style or domain profile lookup.
type ConfigurationError struct {
	Key string
	Err error
}

// NewConfigurationError creates a ConfigurationError for the given lookup key.
func NewConfigurationError(key string, err error) *ConfigurationError {
	return &ConfigurationError{Key: key, Err: err}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration lookup %q failed: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Kind returns ErrorKindConfiguration.
func (e *ConfigurationError) Kind() ErrorKind { return ErrorKindConfiguration }

// ErrorKindOf classifies err within the taxonomy. Unclassified errors are internal.
func ErrorKindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var kinded interface{ Kind() ErrorKind }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	return ErrorKindInternal
}

// TurnError is the user-visible result of a failed turn.
type TurnError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewTurnError converts err into its user-visible form.
func NewTurnError(err error) TurnError {
	return TurnError{Kind: ErrorKindOf(err), Message: err.Error()}
}
