package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists sessions in a single SQLite file.
type SQLiteStore struct {
	*sqlStore
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if path := sqliteFilePath(dsn); path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("SQLite database directory verified/created", "dir", dir)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY inside SaveTurn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := upgradeSQLiteSchema(db); err != nil {
		slog.Error("Failed to upgrade SQLite schema", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to upgrade schema: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{sqlStore: &sqlStore{db: db, name: "SQLiteStore"}}, nil
}

// sqliteFilePath strips the file: prefix and query string from a DSN.
// It returns "" for in-memory databases.
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

// sqliteAddedColumns are conversation_states columns introduced after the
// first schema, added in place to older database files.
var sqliteAddedColumns = []struct{ name, ddl string }{
	{"recipient", `ALTER TABLE conversation_states ADD COLUMN recipient TEXT NOT NULL DEFAULT ''`},
	{"completed", `ALTER TABLE conversation_states ADD COLUMN completed INTEGER NOT NULL DEFAULT 0`},
}

// upgradeSQLiteSchema adds missing columns and the recipient index. SQLite
// has no ADD COLUMN IF NOT EXISTS, so existing columns are read first.
func upgradeSQLiteSchema(db *sql.DB) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info('conversation_states')`)
	if err != nil {
		return fmt.Errorf("read table info: %w", err)
	}
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan table info: %w", err)
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate table info: %w", err)
	}

	for _, col := range sqliteAddedColumns {
		if have[col.name] {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
		slog.Info("SQLite schema upgraded", "column", col.name)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_conversation_states_recipient ON conversation_states(recipient, completed, created_at)`)
	if err != nil {
		return fmt.Errorf("create recipient index: %w", err)
	}
	return nil
}
