package models

import (
	"encoding/json"
	"time"
)

// ArtifactKind tags what a per-turn artifact holds.
type ArtifactKind string

const (
	ArtifactAnalysis      ArtifactKind = "analysis"
	ArtifactPivot         ArtifactKind = "pivot"
	ArtifactAssumptionSet ArtifactKind = "assumption_set"
	ArtifactQuestion      ArtifactKind = "question"
)

// TurnArtifact is an immutable record produced during one turn, keyed by
// session id, sequence and kind.
type TurnArtifact struct {
	SessionID string          `json:"session_id"`
	Sequence  int             `json:"sequence"`
	Kind      ArtifactKind    `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewTurnArtifact marshals payload into an artifact.
func NewTurnArtifact(sessionID string, seq int, kind ArtifactKind, payload interface{}, at time.Time) (TurnArtifact, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return TurnArtifact{}, err
	}
	return TurnArtifact{SessionID: sessionID, Sequence: seq, Kind: kind, Payload: raw, CreatedAt: at}, nil
}

// TurnResult is what one processed turn returns to the caller.
type TurnResult struct {
	SessionID string            `json:"session_id"`
	Sequence  int               `json:"sequence"`
	Analysis  ResponseAnalysis  `json:"analysis"`
	Pivot     PivotDecision     `json:"pivot"`
	Style     *StyleSelection   `json:"style,omitempty"`
	Question  *Question         `json:"question,omitempty"`
	State     ConversationState `json:"state"`
	Delivered bool              `json:"delivered,omitempty"`
}
