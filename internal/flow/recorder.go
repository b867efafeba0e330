package flow

import (
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// Turn outcomes reported to a Recorder.
const (
	OutcomeQuestioned = "questioned"
	OutcomePivoted    = "pivoted"
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
)

// Recorder observes what the conversation flow does. internal/metrics
// provides the Prometheus implementation.
type Recorder interface {
	SessionStarted(domain string)
	TurnProcessed(outcome string, d time.Duration)
	PivotDecided(trigger models.PivotTrigger)
	StyleSelected(style models.StyleProfile)
	StageTransitioned(to models.Stage)
	AssumptionsGenerated(source models.GenerationSource)
	MessageEnqueued(kind string)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(string)                        {}
func (nopRecorder) TurnProcessed(string, time.Duration)          {}
func (nopRecorder) PivotDecided(models.PivotTrigger)             {}
func (nopRecorder) StyleSelected(models.StyleProfile)            {}
func (nopRecorder) StageTransitioned(models.Stage)               {}
func (nopRecorder) AssumptionsGenerated(models.GenerationSource) {}
func (nopRecorder) MessageEnqueued(string)                       {}
