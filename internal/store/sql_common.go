package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/models"
	"github.com/BTreeMap/ElicitPipe/internal/util"
)

// sqlStore implements Store over database/sql. Queries are written with ?
// placeholders and rebound for drivers that use $n.
type sqlStore struct {
	db     *sql.DB
	name   string
	dollar bool
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// rebind converts ? placeholders to $1..$n when the driver needs it.
func (s *sqlStore) rebind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (s *sqlStore) SaveConversationState(st models.ConversationState) error {
	if st.SessionID == "" {
		return models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	if err := s.saveState(s.db, st); err != nil {
		slog.Error(s.name+".SaveConversationState failed", "error", err, "sessionID", st.SessionID)
		return err
	}
	slog.Debug(s.name+".SaveConversationState succeeded", "sessionID", st.SessionID, "stage", st.CurrentStage, "progress", st.OverallProgress)
	return nil
}

func (s *sqlStore) saveState(ex execer, st models.ConversationState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal conversation state: %w", err)
	}
	_, err = ex.Exec(s.rebind(`
		INSERT INTO conversation_states (session_id, domain, recipient, current_stage, completed, overall_progress, escape_triggered, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			domain = excluded.domain,
			recipient = excluded.recipient,
			current_stage = excluded.current_stage,
			completed = excluded.completed,
			overall_progress = excluded.overall_progress,
			escape_triggered = excluded.escape_triggered,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`),
		st.SessionID, st.Domain, st.Recipient, string(st.CurrentStage), st.IsCompleted(), st.OverallProgress, st.EscapeTriggered(),
		string(data), st.CreatedAt.UTC(), st.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save conversation state %s: %w", st.SessionID, err)
	}
	return nil
}

func (s *sqlStore) GetConversationState(sessionID string) (*models.ConversationState, error) {
	var data string
	err := s.db.QueryRow(s.rebind(`SELECT state_json FROM conversation_states WHERE session_id = ?`), sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(s.name+".GetConversationState not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetConversationState failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("get conversation state %s: %w", sessionID, err)
	}
	var st models.ConversationState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("decode conversation state %s: %w", sessionID, err)
	}
	return &st, nil
}

func (s *sqlStore) DeleteConversationState(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM turn_artifacts WHERE session_id = ?`,
		`DELETE FROM conversation_contexts WHERE session_id = ?`,
		`DELETE FROM conversation_states WHERE session_id = ?`,
	} {
		if _, err := tx.Exec(s.rebind(q), sessionID); err != nil {
			slog.Error(s.name+".DeleteConversationState failed", "error", err, "sessionID", sessionID)
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	slog.Debug(s.name+".DeleteConversationState succeeded", "sessionID", sessionID)
	return nil
}

// ListConversationStates returns states whose creation time falls in window,
// oldest first. created_at is stored in UTC so the bounds compare the same way
// on both drivers.
func (s *sqlStore) ListConversationStates(window models.TimeWindow) ([]models.ConversationState, error) {
	query := `SELECT state_json FROM conversation_states`
	var conds []string
	var args []interface{}
	if !window.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, window.From.UTC())
	}
	if !window.To.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, window.To.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		slog.Error(s.name+".ListConversationStates query failed", "error", err)
		return nil, fmt.Errorf("list conversation states: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationState
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan conversation state: %w", err)
		}
		var st models.ConversationState
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			slog.Warn(s.name+".ListConversationStates: skipping undecodable row", "error", err)
			continue
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation states: %w", err)
	}
	slog.Debug(s.name+".ListConversationStates succeeded", "count", len(out))
	return out, nil
}

func (s *sqlStore) FindOpenSessionByRecipient(recipient string) (*models.ConversationState, error) {
	var data string
	err := s.db.QueryRow(s.rebind(`
		SELECT state_json FROM conversation_states
		WHERE recipient = ? AND completed = ?
		ORDER BY created_at DESC LIMIT 1`), recipient, false).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(s.name+".FindOpenSessionByRecipient not found", "recipient", recipient)
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".FindOpenSessionByRecipient failed", "error", err, "recipient", recipient)
		return nil, fmt.Errorf("find session for recipient: %w", err)
	}
	var st models.ConversationState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}
	return &st, nil
}

func (s *sqlStore) SaveConversationContext(cc models.ConversationContext) error {
	if cc.SessionID == "" {
		return models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	if err := s.saveContext(s.db, cc); err != nil {
		slog.Error(s.name+".SaveConversationContext failed", "error", err, "sessionID", cc.SessionID)
		return err
	}
	return nil
}

func (s *sqlStore) saveContext(ex execer, cc models.ConversationContext) error {
	data, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("marshal conversation context: %w", err)
	}
	_, err = ex.Exec(s.rebind(`
		INSERT INTO conversation_contexts (session_id, context_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			context_json = excluded.context_json,
			updated_at = excluded.updated_at`),
		cc.SessionID, string(data), cc.LastUpdated)
	if err != nil {
		return fmt.Errorf("save conversation context %s: %w", cc.SessionID, err)
	}
	return nil
}

func (s *sqlStore) GetConversationContext(sessionID string) (*models.ConversationContext, error) {
	var data string
	err := s.db.QueryRow(s.rebind(`SELECT context_json FROM conversation_contexts WHERE session_id = ?`), sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetConversationContext failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("get conversation context %s: %w", sessionID, err)
	}
	var cc models.ConversationContext
	if err := json.Unmarshal([]byte(data), &cc); err != nil {
		return nil, fmt.Errorf("decode conversation context %s: %w", sessionID, err)
	}
	return &cc, nil
}

func (s *sqlStore) SaveArtifact(a models.TurnArtifact) error {
	if err := s.insertArtifact(s.db, a); err != nil {
		slog.Error(s.name+".SaveArtifact failed", "error", err, "sessionID", a.SessionID, "sequence", a.Sequence, "kind", a.Kind)
		return err
	}
	return nil
}

func (s *sqlStore) insertArtifact(ex execer, a models.TurnArtifact) error {
	_, err := ex.Exec(s.rebind(`INSERT INTO turn_artifacts (session_id, sequence, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`),
		a.SessionID, a.Sequence, string(a.Kind), string(a.Payload), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert artifact %s/%d/%s: %w", a.SessionID, a.Sequence, a.Kind, err)
	}
	return nil
}

func (s *sqlStore) ListArtifacts(sessionID string) ([]models.TurnArtifact, error) {
	rows, err := s.db.Query(s.rebind(`SELECT session_id, sequence, kind, payload, created_at FROM turn_artifacts WHERE session_id = ? ORDER BY sequence, kind`), sessionID)
	if err != nil {
		slog.Error(s.name+".ListArtifacts query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("list artifacts %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []models.TurnArtifact
	for rows.Next() {
		var a models.TurnArtifact
		var kind, payload string
		if err := rows.Scan(&a.SessionID, &a.Sequence, &kind, &payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Kind = models.ArtifactKind(kind)
		a.Payload = json.RawMessage(payload)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

func (s *sqlStore) SaveTurn(st models.ConversationState, cc models.ConversationContext, artifacts []models.TurnArtifact) error {
	if st.SessionID == "" || cc.SessionID == "" {
		return models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin turn: %w", err)
	}
	defer tx.Rollback()

	for _, a := range artifacts {
		if err := s.insertArtifact(tx, a); err != nil {
			slog.Error(s.name+".SaveTurn artifact failed", "error", err, "sessionID", st.SessionID)
			return err
		}
	}
	if err := s.saveState(tx, st); err != nil {
		slog.Error(s.name+".SaveTurn state failed", "error", err, "sessionID", st.SessionID)
		return err
	}
	if err := s.saveContext(tx, cc); err != nil {
		slog.Error(s.name+".SaveTurn context failed", "error", err, "sessionID", st.SessionID)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	slog.Debug(s.name+".SaveTurn succeeded", "sessionID", st.SessionID, "artifacts", len(artifacts))
	return nil
}

func (s *sqlStore) EnqueueOutboxMessage(msg OutboxMessage) (string, error) {
	id := util.GenerateOutboxID()
	now := time.Now()

	if msg.DedupeKey != "" {
		var existingID string
		err := s.db.QueryRow(s.rebind(
			`SELECT id FROM outbox_messages WHERE dedupe_key = ? AND status NOT IN ('sent', 'canceled')`),
			msg.DedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug(s.name+".EnqueueOutboxMessage: dedupe hit", "dedupeKey", msg.DedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	_, err := s.db.Exec(s.rebind(
		`INSERT INTO outbox_messages (id, session_id, recipient, kind, body, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'queued', 0, ?, ?, ?)`),
		id, msg.SessionID, msg.Recipient, msg.Kind, msg.Body, nilIfEmpty(msg.DedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug(s.name+".EnqueueOutboxMessage", "id", id, "sessionID", msg.SessionID, "kind", msg.Kind)
	return id, nil
}

func (s *sqlStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(s.rebind(
		`SELECT id, session_id, recipient, kind, body, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at
		 FROM outbox_messages WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`),
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	var msgs []OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox iteration failed: %w", err)
	}

	for i := range msgs {
		_, err := tx.Exec(s.rebind(
			`UPDATE outbox_messages SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ?`),
			now, now, msgs[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark outbox sending failed: %w", err)
		}
		msgs[i].Status = OutboxStatusSending
		locked := now
		msgs[i].LockedAt = &locked
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return msgs, nil
}

func (s *sqlStore) MarkOutboxMessageSent(id string) error {
	_, err := s.db.Exec(s.rebind(`UPDATE outbox_messages SET status = 'sent', updated_at = ? WHERE id = ?`), time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *sqlStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.db.Exec(s.rebind(
		`UPDATE outbox_messages SET status = 'queued', attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`),
		errMsg, nextAttemptAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *sqlStore) GiveUpOutboxMessage(id string, errMsg string) error {
	_, err := s.db.Exec(s.rebind(
		`UPDATE outbox_messages SET status = 'failed', attempts = attempts + 1, last_error = ?, locked_at = NULL, updated_at = ? WHERE id = ?`),
		errMsg, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("give up outbox message failed: %w", err)
	}
	return nil
}

func (s *sqlStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(s.rebind(
		`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`),
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info(s.name+".RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug(s.name + ".Close: closing database connection")
	if err := s.db.Close(); err != nil {
		slog.Error(s.name+".Close failed", "error", err)
		return err
	}
	return nil
}

func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var status string
	var dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.SessionID, &m.Recipient, &m.Kind, &m.Body, &status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.Status = OutboxStatus(status)
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
