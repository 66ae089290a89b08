// Package persistence stores task history and change-queue entries in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"patchmind/pkg/logx"
)

// CurrentSchemaVersion is the schema version this build writes.
const CurrentSchemaVersion = 1

// Store is a SQLite-backed history. Each Store belongs to one session, typically one CLI run.
type Store struct {
	db        *sql.DB
	logger    *logx.Logger
	sessionID string
	closeOnce sync.Once
}

// Open opens (creating if needed) the database at path and starts a session. Use ":memory:"
// for a throwaway database.
func Open(path, sessionID string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite supports one writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// The DSN pragmas do not apply to :memory: databases.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{db: db, sessionID: sessionID, logger: logx.NewLogger("persistence")}
	if _, err := db.Exec(`INSERT OR IGNORE INTO sessions (session_id, started_at) VALUES (?, ?)`,
		sessionID, time.Now().UTC()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// SessionID returns the session this store writes under.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Close ends the session and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if _, execErr := s.db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`,
			time.Now().UTC(), s.sessionID); execErr != nil {
			s.logger.Warn("failed to end session %s: %v", s.sessionID, execErr)
		}
		err = s.db.Close()
	})
	return err //nolint:wrapcheck // close error passes through
}

// GetSchemaVersion returns the applied schema version, 0 for an empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var version sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func initializeSchema(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}
	switch {
	case version == CurrentSchemaVersion:
		return nil
	case version > CurrentSchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	case version == 0:
		return createSchema(db)
	default:
		return fmt.Errorf("unknown migration path from version %d", version)
	}
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(session_id),
			model TEXT NOT NULL,
			workflow TEXT NOT NULL,
			state TEXT NOT NULL CHECK (state IN ('completed','failed','cancelled')),
			error_kind TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			edits INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_finished ON tasks(finished_at)`,
		`CREATE TABLE IF NOT EXISTS queue_entries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(session_id),
			file TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending','applied','rejected','failed')),
			preview TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			diagnostic TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_session ON queue_entries(session_id)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
		}
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// ErrNoRows is returned by lookups that find nothing.
var ErrNoRows = errors.New("not found")

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("persistence: %w", err)
	}
	return nil
}
