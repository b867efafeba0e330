package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/models"
	"github.com/BTreeMap/ElicitPipe/internal/util"
)

type artifactKey struct {
	sessionID string
	sequence  int
	kind      models.ArtifactKind
}

// InMemoryStore is a process-local Store for tests and development.
// Values are deep-copied on the way in and out.
type InMemoryStore struct {
	mu        sync.RWMutex
	states    map[string]models.ConversationState
	contexts  map[string]models.ConversationContext
	artifacts map[artifactKey]models.TurnArtifact
	outbox    map[string]OutboxMessage
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:    make(map[string]models.ConversationState),
		contexts:  make(map[string]models.ConversationContext),
		artifacts: make(map[artifactKey]models.TurnArtifact),
		outbox:    make(map[string]OutboxMessage),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveConversationState(st models.ConversationState) error {
	if st.SessionID == "" {
		return models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.SessionID] = st.Clone()
	return nil
}

func (s *InMemoryStore) GetConversationState(sessionID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[sessionID]
	if !ok {
		return nil, nil
	}
	out := st.Clone()
	return &out, nil
}

func (s *InMemoryStore) DeleteConversationState(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	delete(s.contexts, sessionID)
	for k := range s.artifacts {
		if k.sessionID == sessionID {
			delete(s.artifacts, k)
		}
	}
	return nil
}

func (s *InMemoryStore) ListConversationStates(window models.TimeWindow) ([]models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConversationState
	for _, st := range s.states {
		if window.Contains(st.CreatedAt) {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) FindOpenSessionByRecipient(recipient string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *models.ConversationState
	for _, st := range s.states {
		if st.Recipient != recipient || st.IsCompleted() {
			continue
		}
		if newest == nil || st.CreatedAt.After(newest.CreatedAt) {
			found := st.Clone()
			newest = &found
		}
	}
	return newest, nil
}

func (s *InMemoryStore) SaveConversationContext(cc models.ConversationContext) error {
	if cc.SessionID == "" {
		return models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[cc.SessionID] = cc.Clone()
	return nil
}

func (s *InMemoryStore) GetConversationContext(sessionID string) (*models.ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cc, ok := s.contexts[sessionID]
	if !ok {
		return nil, nil
	}
	out := cc.Clone()
	return &out, nil
}

func (s *InMemoryStore) SaveArtifact(a models.TurnArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putArtifactLocked(a)
}

func (s *InMemoryStore) putArtifactLocked(a models.TurnArtifact) error {
	key := artifactKey{a.SessionID, a.Sequence, a.Kind}
	if _, exists := s.artifacts[key]; exists {
		return fmt.Errorf("%w: %s/%d/%s", ErrArtifactExists, a.SessionID, a.Sequence, a.Kind)
	}
	a.Payload = append([]byte(nil), a.Payload...)
	s.artifacts[key] = a
	return nil
}

func (s *InMemoryStore) ListArtifacts(sessionID string) ([]models.TurnArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TurnArtifact
	for k, a := range s.artifacts {
		if k.sessionID == sessionID {
			a.Payload = append([]byte(nil), a.Payload...)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func (s *InMemoryStore) SaveTurn(st models.ConversationState, cc models.ConversationContext, artifacts []models.TurnArtifact) error {
	if st.SessionID == "" || cc.SessionID == "" {
		return models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range artifacts {
		if _, exists := s.artifacts[artifactKey{a.SessionID, a.Sequence, a.Kind}]; exists {
			return fmt.Errorf("%w: %s/%d/%s", ErrArtifactExists, a.SessionID, a.Sequence, a.Kind)
		}
	}
	for _, a := range artifacts {
		if err := s.putArtifactLocked(a); err != nil {
			return err
		}
	}
	s.states[st.SessionID] = st.Clone()
	s.contexts[cc.SessionID] = cc.Clone()
	return nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(msg OutboxMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.DedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == msg.DedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				slog.Debug("InMemoryStore.EnqueueOutboxMessage: dedupe hit", "dedupeKey", msg.DedupeKey, "existingID", m.ID)
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	msg.ID = util.GenerateOutboxID()
	msg.Status = OutboxStatusQueued
	msg.Attempts = 0
	msg.CreatedAt, msg.UpdatedAt = now, now
	s.outbox[msg.ID] = msg
	return msg.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		locked := now
		due[i].Status = OutboxStatusSending
		due[i].LockedAt = &locked
		due[i].UpdatedAt = now
		s.outbox[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox message %s not found", id)
	}
	fn(&m)
	m.UpdatedAt = time.Now()
	s.outbox[id] = m
	return nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
	})
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &nextAttemptAt
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) GiveUpOutboxMessage(id string, errMsg string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusFailed
		m.Attempts++
		m.LastError = errMsg
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			s.outbox[id] = m
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns a snapshot of every outbox message, oldest first.
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
