// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session persistence with automatic schema creation and migrations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection, so pin the pool to one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			connection_id    TEXT PRIMARY KEY,
			state            TEXT NOT NULL,
			lang             TEXT NOT NULL DEFAULT '',
			is_authenticated INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			CHECK (state IN ('start', 'chat', 'auth'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

		CREATE TABLE IF NOT EXISTS stat_events (
			id            TEXT PRIMARY KEY,
			kpi           TEXT NOT NULL,
			connection_id TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_stat_events_kpi ON stat_events(kpi, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		table  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('sessions') WHERE name = 'user_name'`,
			apply:  `ALTER TABLE sessions ADD COLUMN user_name TEXT NOT NULL DEFAULT ''`,
			table:  "sessions",
			column: "user_name",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession inserts a new session.
// Returns ErrDuplicateSession if the connection ID is already present.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	if !session.State.Valid() {
		return fmt.Errorf("invalid session state %q", session.State)
	}

	query := `
		INSERT INTO sessions (connection_id, state, lang, is_authenticated, user_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ConnectionID,
		string(session.State),
		session.Lang,
		session.IsAuthenticated,
		session.UserName,
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "connection_id", session.ConnectionID, "state", session.State)
	return nil
}

// GetSession retrieves a session by connection ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, connectionID string) (*Session, error) {
	query := `
		SELECT connection_id, state, lang, is_authenticated, user_name, created_at, updated_at
		FROM sessions
		WHERE connection_id = ?
	`

	var session Session
	var state, createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, connectionID).Scan(
		&session.ConnectionID,
		&state,
		&session.Lang,
		&session.IsAuthenticated,
		&session.UserName,
		&createdAtStr,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.State = State(state)

	session.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	session.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &session, nil
}

// SaveSession upserts the full session record and stamps UpdatedAt.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *Session) error {
	if !session.State.Valid() {
		return fmt.Errorf("invalid session state %q", session.State)
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	query := `
		INSERT INTO sessions (connection_id, state, lang, is_authenticated, user_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(connection_id) DO UPDATE SET
			state = excluded.state,
			lang = excluded.lang,
			is_authenticated = excluded.is_authenticated,
			user_name = excluded.user_name,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ConnectionID,
		string(session.State),
		session.Lang,
		session.IsAuthenticated,
		session.UserName,
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	s.logger.Debug("saved session",
		"connection_id", session.ConnectionID,
		"state", session.State,
		"authenticated", session.IsAuthenticated)
	return nil
}

// GetOrCreateSession loads a session or creates it in the initial state.
// The UNIQUE primary key arbitrates concurrent creation: the loser re-reads the winner's row.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, connectionID string, initial State) (*Session, error) {
	session, err := s.GetSession(ctx, connectionID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	session = &Session{
		ConnectionID: connectionID,
		State:        initial,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateSession(ctx, session); err != nil {
		if errors.Is(err, ErrDuplicateSession) {
			s.logger.Debug("session created concurrently, re-reading", "connection_id", connectionID)
			return s.GetSession(ctx, connectionID)
		}
		return nil, err
	}
	return session, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
