package flow

import (
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// timeNow is swapped in tests for deterministic timestamps.
var timeNow = time.Now

// stageWeight is each content stage's share of overall progress.
const stageWeight = 100.0 / models.NumContentStages

// NewConversationState creates the state for a fresh session with the first
// content stage in progress.
func NewConversationState(sessionID string, domain DomainProfile, recipient string) models.ConversationState {
	now := timeNow()
	st := models.ConversationState{
		SessionID:    sessionID,
		Domain:       domain.Name,
		CurrentStage: models.StageIdeaClarity,
		Recipient:    recipient,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, s := range models.ContentStages {
		p := st.Stages.At(s)
		p.Status = models.StageStatusNotStarted
		p.TotalQuestions = domain.ExpectedFor(s)
	}
	first := st.Stages.At(models.StageIdeaClarity)
	first.Status = models.StageStatusInProgress
	first.StartedAt = &now
	st.OverallProgress = ComputeProgress(st)
	return st
}

// TransitionStage moves a session forward to stage to. The current stage is
// marked completed, any stages jumped over are marked skipped, and to starts.
// Backward, repeated, or unknown targets yield a StateError and st is returned
// untouched.
func TransitionStage(st models.ConversationState, to models.Stage) (models.ConversationState, error) {
	if !models.IsValidStage(to) {
		return st, models.NewStateError(st.SessionID, models.ErrUnknownStage)
	}
	if st.IsCompleted() {
		return st, models.NewStateError(st.SessionID, models.ErrSessionCompleted)
	}
	from := st.CurrentStage
	if to.Index() <= from.Index() {
		return st, models.NewTransitionError(st.SessionID, from, to)
	}

	now := timeNow()
	next := st.Clone()
	if cur := next.Stages.At(from); cur != nil {
		cur.Status = models.StageStatusCompleted
		cur.CompletedAt = &now
		if cur.StartedAt == nil {
			cur.StartedAt = &now
		}
	}
	for i := from.Index() + 1; i < to.Index() && i < models.NumContentStages; i++ {
		next.Stages.At(models.ContentStages[i]).Status = models.StageStatusSkipped
	}
	if target := next.Stages.At(to); target != nil {
		target.Status = models.StageStatusInProgress
		target.StartedAt = &now
	} else {
		next.CompletedAt = &now
	}
	next.CurrentStage = to
	next.UpdatedAt = now
	next.OverallProgress = nextProgress(st.OverallProgress, next)
	return next, nil
}

// NextStage returns the stage after s in the fixed order, or StageCompleted.
func NextStage(s models.Stage) models.Stage {
	i := s.Index()
	if i < 0 || i+1 >= models.NumContentStages {
		return models.StageCompleted
	}
	return models.ContentStages[i+1]
}

// RecordQuestionAsked counts a question put to the user in the current stage.
func RecordQuestionAsked(st models.ConversationState) (models.ConversationState, error) {
	if st.IsCompleted() {
		return st, models.NewStateError(st.SessionID, models.ErrSessionCompleted)
	}
	next := st.Clone()
	next.Stages.At(next.CurrentStage).QuestionsAsked++
	next.UpdatedAt = timeNow()
	return next, nil
}

// RecordResponse appends an answered question to the current stage and
// recomputes progress.
func RecordResponse(st models.ConversationState, question, answer string) (models.ConversationState, error) {
	if st.IsCompleted() {
		return st, models.NewStateError(st.SessionID, models.ErrSessionCompleted)
	}
	now := timeNow()
	next := st.Clone()
	p := next.Stages.At(next.CurrentStage)
	if p.Status == models.StageStatusNotStarted {
		p.Status = models.StageStatusInProgress
		p.StartedAt = &now
	}
	p.QuestionsAnswered++
	p.Responses = append(p.Responses, models.StageResponse{Question: question, Answer: answer, Timestamp: now})
	next.UpdatedAt = now
	next.OverallProgress = nextProgress(st.OverallProgress, next)
	return next, nil
}

// StageQuotaMet reports whether the current stage has its expected answers.
func StageQuotaMet(st models.ConversationState) bool {
	p := st.Stages.At(st.CurrentStage)
	return p != nil && p.TotalQuestions > 0 && p.QuestionsAnswered >= p.TotalQuestions
}

// TriggerEscape stamps the escape record. Once triggered it stays triggered;
// later calls only move the stage, timestamp and reason.
func TriggerEscape(st models.ConversationState, reason string) models.ConversationState {
	now := timeNow()
	next := st.Clone()
	next.Escape = &models.EscapeRecord{
		Triggered: true,
		Stage:     st.CurrentStage,
		Timestamp: now,
		Reason:    reason,
	}
	next.UpdatedAt = now
	return next
}

// ComputeProgress returns the weighted completion of st in [0,100].
func ComputeProgress(st models.ConversationState) float64 {
	if st.IsCompleted() {
		return 100
	}
	var total float64
	for _, s := range models.ContentStages {
		p := st.Stages.At(s)
		switch p.Status {
		case models.StageStatusCompleted:
			total += stageWeight
		case models.StageStatusInProgress:
			if p.TotalQuestions > 0 {
				answered := p.QuestionsAnswered
				if answered > p.TotalQuestions {
					answered = p.TotalQuestions
				}
				total += stageWeight * float64(answered) / float64(p.TotalQuestions)
			}
		case models.StageStatusNotStarted, models.StageStatusSkipped:
		}
	}
	if total > 100 {
		total = 100
	}
	return total
}

// nextProgress keeps overall progress non-decreasing.
func nextProgress(prev float64, st models.ConversationState) float64 {
	if p := ComputeProgress(st); p > prev {
		return p
	}
	return prev
}
