// Package store provides storage backends for ElicitPipe.
//
// It persists conversation state and context per session, the immutable
// per-turn artifacts (analyses, pivot decisions, assumption sets, questions),
// and the outbox of messages awaiting delivery. In-memory, SQLite and
// PostgreSQL implementations are provided.
package store

import (
	"errors"
	"strings"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// ErrArtifactExists is returned when an artifact key is written twice.
var ErrArtifactExists = errors.New("artifact already exists")

// Store defines the interface for conversation persistence.
// Getters return nil, nil when the record does not exist.
type Store interface {
	SaveConversationState(st models.ConversationState) error
	GetConversationState(sessionID string) (*models.ConversationState, error)
	DeleteConversationState(sessionID string) error
	ListConversationStates(window models.TimeWindow) ([]models.ConversationState, error)
	// FindOpenSessionByRecipient returns the newest uncompleted session
	// addressed to recipient, or nil.
	FindOpenSessionByRecipient(recipient string) (*models.ConversationState, error)

	SaveConversationContext(cc models.ConversationContext) error
	GetConversationContext(sessionID string) (*models.ConversationContext, error)

	SaveArtifact(a models.TurnArtifact) error
	ListArtifacts(sessionID string) ([]models.TurnArtifact, error)

	// SaveTurn writes state, context and artifacts together. Either all are
	// written or none are.
	SaveTurn(st models.ConversationState, cc models.ConversationContext, artifacts []models.TurnArtifact) error

	OutboxRepo

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a function that configures store options.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database/sql driver name for a DSN: "postgres" for
// PostgreSQL URLs or key/value strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the store matching dsn, or an in-memory store when dsn is empty.
func New(dsn string) (Store, error) {
	if dsn == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
