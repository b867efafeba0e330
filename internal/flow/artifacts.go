package flow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

type artifactSpec struct {
	kind    models.ArtifactKind
	payload interface{}
}

func buildArtifacts(sessionID string, seq int, at time.Time, specs []artifactSpec) ([]models.TurnArtifact, error) {
	out := make([]models.TurnArtifact, 0, len(specs))
	for _, s := range specs {
		a, err := models.NewTurnArtifact(sessionID, seq, s.kind, s.payload, at)
		if err != nil {
			return nil, fmt.Errorf("encode %s artifact: %w", s.kind, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func decodeArtifact[T any](a models.TurnArtifact) (T, error) {
	var v T
	if err := json.Unmarshal(a.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s artifact %s/%d: %w", a.Kind, a.SessionID, a.Sequence, err)
	}
	return v, nil
}
