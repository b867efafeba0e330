// Package models defines stage and progress structures for discovery sessions.
package models

import (
	"time"
)

// Stage represents an ordered phase of the discovery conversation.
type Stage string

// Stage constants in their fixed order.
const (
	StageIdeaClarity    Stage = "idea-clarity"
	StageUserWorkflow   Stage = "user-workflow"
	StageTechnicalSpecs Stage = "technical-specs"
	StageWireframes     Stage = "wireframes"
	StageCompleted      Stage = "completed"
)

// NumContentStages is the number of question-bearing stages.
const NumContentStages = 4

// ContentStages lists the question-bearing stages in order.
var ContentStages = [NumContentStages]Stage{
	StageIdeaClarity,
	StageUserWorkflow,
	StageTechnicalSpecs,
	StageWireframes,
}

// Index returns the stage's position in the fixed order, or -1 if unknown.
// StageCompleted sorts after every content stage.
func (s Stage) Index() int {
	switch s {
	case StageIdeaClarity:
		return 0
	case StageUserWorkflow:
		return 1
	case StageTechnicalSpecs:
		return 2
	case StageWireframes:
		return 3
	case StageCompleted:
		return NumContentStages
	default:
		return -1
	}
}

// IsValidStage checks if the given stage is part of the fixed order.
func IsValidStage(s Stage) bool {
	return s.Index() >= 0
}

// StageStatus tracks a content stage's lifecycle.
type StageStatus string

const (
	StageStatusNotStarted StageStatus = "not-started"
	StageStatusInProgress StageStatus = "in-progress"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusSkipped    StageStatus = "skipped"
)

// StageResponse records one answered question within a stage.
type StageResponse struct {
	Question  string    `json:"question,omitempty"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// StageProgress tracks questions and answers for a single content stage.
type StageProgress struct {
	Status            StageStatus     `json:"status"`
	QuestionsAsked    int             `json:"questions_asked"`
	QuestionsAnswered int             `json:"questions_answered"`
	TotalQuestions    int             `json:"total_questions"` // expected questions for the session's domain
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Responses         []StageResponse `json:"responses,omitempty"`
}

// StageProgresses holds one StageProgress per content stage. Access goes
// through At so every stage is matched exhaustively.
type StageProgresses struct {
	IdeaClarity    StageProgress `json:"idea-clarity"`
	UserWorkflow   StageProgress `json:"user-workflow"`
	TechnicalSpecs StageProgress `json:"technical-specs"`
	Wireframes     StageProgress `json:"wireframes"`
}

// At returns a pointer to the progress record for a content stage, or nil for
// StageCompleted and unknown stages.
func (p *StageProgresses) At(s Stage) *StageProgress {
	switch s {
	case StageIdeaClarity:
		return &p.IdeaClarity
	case StageUserWorkflow:
		return &p.UserWorkflow
	case StageTechnicalSpecs:
		return &p.TechnicalSpecs
	case StageWireframes:
		return &p.Wireframes
	default:
		return nil
	}
}

// EscapeRecord notes that a session escaped structured questioning.
// Triggered is never cleared once set.
type EscapeRecord struct {
	Triggered bool      `json:"escape_triggered"`
	Stage     Stage     `json:"escape_stage"`
	Timestamp time.Time `json:"escape_timestamp"`
	Reason    string    `json:"escape_reason,omitempty"`
}

// ConversationState is the persisted progress of one discovery session.
type ConversationState struct {
	SessionID       string          `json:"session_id"`
	Domain          string          `json:"domain"`
	CurrentStage    Stage           `json:"current_stage"`
	Stages          StageProgresses `json:"stage_progresses"`
	OverallProgress float64         `json:"overall_progress"` // 0-100, non-decreasing
	Escape          *EscapeRecord   `json:"escape,omitempty"`
	Recipient       string          `json:"recipient,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers can derive a new version without
// aliasing the original's slices or pointers.
func (s ConversationState) Clone() ConversationState {
	out := s
	for _, stage := range ContentStages {
		src := s.Stages.At(stage)
		dst := out.Stages.At(stage)
		dst.StartedAt = cloneTime(src.StartedAt)
		dst.CompletedAt = cloneTime(src.CompletedAt)
		if src.Responses != nil {
			dst.Responses = append([]StageResponse(nil), src.Responses...)
		}
	}
	if s.Escape != nil {
		escape := *s.Escape
		out.Escape = &escape
	}
	out.CompletedAt = cloneTime(s.CompletedAt)
	return out
}

// IsCompleted reports whether the session reached the terminal stage.
func (s ConversationState) IsCompleted() bool {
	return s.CurrentStage == StageCompleted
}

// EscapeTriggered reports whether the session ever escaped questioning.
func (s ConversationState) EscapeTriggered() bool {
	return s.Escape != nil && s.Escape.Triggered
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
