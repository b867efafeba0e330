package flow

import (
	"log/slog"

	"github.com/BTreeMap/ElicitPipe/internal/models"
	"github.com/BTreeMap/ElicitPipe/internal/session"
	"github.com/BTreeMap/ElicitPipe/internal/store"
)

// StateManager loads and persists session state. The registry is a cache in
// front of the store; the store is the source of truth.
type StateManager struct {
	store    store.Store
	sessions *session.Registry
}

// NewStateManager creates a StateManager backed by st and cached in reg.
func NewStateManager(st store.Store, reg *session.Registry) *StateManager {
	slog.Debug("Creating StateManager")
	return &StateManager{store: st, sessions: reg}
}

// Load returns the session's state and context, reading through to the store
// when the registry has evicted it. A missing session is a StateError.
func (sm *StateManager) Load(sessionID string) (models.ConversationState, models.ConversationContext, error) {
	if sessionID == "" {
		return models.ConversationState{}, models.ConversationContext{}, models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	if snap, ok := sm.sessions.Get(sessionID); ok {
		return snap.State, snap.Context, nil
	}

	st, err := sm.store.GetConversationState(sessionID)
	if err != nil {
		slog.Error("StateManager.Load: state read failed", "sessionID", sessionID, "error", err)
		return models.ConversationState{}, models.ConversationContext{}, err
	}
	if st == nil {
		return models.ConversationState{}, models.ConversationContext{}, models.NewStateError(sessionID, models.ErrSessionNotFound)
	}
	cc, err := sm.store.GetConversationContext(sessionID)
	if err != nil {
		slog.Error("StateManager.Load: context read failed", "sessionID", sessionID, "error", err)
		return models.ConversationState{}, models.ConversationContext{}, err
	}
	if cc == nil {
		slog.Warn("StateManager.Load: context missing, rebuilding", "sessionID", sessionID)
		rebuilt := NewConversationContext(sessionID, st.Domain, models.UserProfile{})
		rebuilt.Stage = st.CurrentStage
		cc = &rebuilt
	}
	if err := sm.sessions.Update(*st, *cc); err != nil {
		return models.ConversationState{}, models.ConversationContext{}, err
	}
	slog.Debug("StateManager.Load: session restored from store", "sessionID", sessionID, "stage", st.CurrentStage)
	return *st, *cc, nil
}

// Create persists and caches a brand-new session with its opening artifacts.
func (sm *StateManager) Create(st models.ConversationState, cc models.ConversationContext, artifacts []models.TurnArtifact) error {
	existing, err := sm.store.GetConversationState(st.SessionID)
	if err != nil {
		return err
	}
	if existing != nil {
		return models.NewStateError(st.SessionID, models.ErrSessionExists)
	}
	if err := sm.store.SaveTurn(st, cc, artifacts); err != nil {
		slog.Error("StateManager.Create: persist failed", "sessionID", st.SessionID, "error", err)
		return err
	}
	return sm.sessions.Update(st, cc)
}

// Commit persists one turn's results atomically, then refreshes the cache.
// On error neither the store nor the cache changes.
func (sm *StateManager) Commit(st models.ConversationState, cc models.ConversationContext, artifacts []models.TurnArtifact) error {
	if err := sm.store.SaveTurn(st, cc, artifacts); err != nil {
		slog.Error("StateManager.Commit: persist failed", "sessionID", st.SessionID, "artifacts", len(artifacts), "error", err)
		return err
	}
	if err := sm.sessions.Update(st, cc); err != nil {
		return err
	}
	slog.Debug("StateManager.Commit succeeded", "sessionID", st.SessionID, "stage", st.CurrentStage, "progress", st.OverallProgress)
	return nil
}

// Delete removes a session from the store and the cache.
func (sm *StateManager) Delete(sessionID string) error {
	if err := sm.store.DeleteConversationState(sessionID); err != nil {
		slog.Error("StateManager.Delete failed", "sessionID", sessionID, "error", err)
		return err
	}
	sm.sessions.Evict(sessionID)
	return nil
}

// LatestArtifact returns the most recent artifact of kind for a session, or nil.
func (sm *StateManager) LatestArtifact(sessionID string, kind models.ArtifactKind) (*models.TurnArtifact, int, error) {
	list, err := sm.store.ListArtifacts(sessionID)
	if err != nil {
		return nil, 0, err
	}
	var latest *models.TurnArtifact
	maxSeq := -1
	for i := range list {
		if list[i].Sequence > maxSeq {
			maxSeq = list[i].Sequence
		}
		if list[i].Kind == kind {
			latest = &list[i]
		}
	}
	return latest, maxSeq, nil
}

// NextSequence returns the sequence number for a session's next batch of
// artifacts. Turns and refinements share one counter.
func (sm *StateManager) NextSequence(sessionID string) (int, error) {
	seq, _, err := sm.latestSequence(sessionID)
	if err != nil {
		return 0, err
	}
	return seq + 1, nil
}

// latestSequence returns the highest stored sequence for a session and the
// artifact kinds written at it. A session without artifacts reports -1.
func (sm *StateManager) latestSequence(sessionID string) (int, []models.ArtifactKind, error) {
	list, err := sm.store.ListArtifacts(sessionID)
	if err != nil {
		return 0, nil, err
	}
	maxSeq := -1
	var kinds []models.ArtifactKind
	for _, a := range list {
		switch {
		case a.Sequence > maxSeq:
			maxSeq = a.Sequence
			kinds = []models.ArtifactKind{a.Kind}
		case a.Sequence == maxSeq:
			kinds = append(kinds, a.Kind)
		}
	}
	return maxSeq, kinds, nil
}
