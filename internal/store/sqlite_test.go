// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers session CRUD, upsert semantics, concurrent get-or-create, and stat events

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist in nested directory")
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	session := &Session{
		ConnectionID: "conn-1",
		State:        StateChat,
		Lang:         "es",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateSession(ctx, session))

	got, err := s.GetSession(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", got.ConnectionID)
	assert.Equal(t, StateChat, got.State)
	assert.Equal(t, "es", got.Lang)
	assert.False(t, got.IsAuthenticated)
	assert.Empty(t, got.UserName)
	assert.True(t, got.CreatedAt.Equal(now))
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSession_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &Session{ConnectionID: "conn-1", State: StateChat, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateSession(ctx, session))

	err := s.CreateSession(ctx, session)
	assert.ErrorIs(t, err, ErrDuplicateSession)
}

func TestCreateSession_InvalidState(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateSession(context.Background(), &Session{ConnectionID: "conn-1", State: "lobby"})
	assert.Error(t, err)
}

func TestSaveSession_FullReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.GetOrCreateSession(ctx, "conn-1", StateChat)
	require.NoError(t, err)
	created := session.CreatedAt

	session.State = StateAuth
	session.IsAuthenticated = true
	session.UserName = "Ana Pérez"
	session.Lang = "fr"
	require.NoError(t, s.SaveSession(ctx, session))

	got, err := s.GetSession(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, StateAuth, got.State)
	assert.True(t, got.IsAuthenticated)
	assert.Equal(t, "Ana Pérez", got.UserName)
	assert.Equal(t, "fr", got.Lang)
	assert.True(t, got.CreatedAt.Equal(created), "created_at must survive an upsert")
	assert.False(t, got.UpdatedAt.Before(created))

	// Clearing fields is a full replace, not a patch.
	session.Purge()
	require.NoError(t, s.SaveSession(ctx, session))

	got, err = s.GetSession(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, StateStart, got.State)
	assert.False(t, got.IsAuthenticated)
	assert.Empty(t, got.UserName)
	assert.Equal(t, "fr", got.Lang)
}

func TestSaveSession_InsertsWhenAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &Session{ConnectionID: "conn-new", State: StateChat}))

	got, err := s.GetSession(ctx, "conn-new")
	require.NoError(t, err)
	assert.Equal(t, StateChat, got.State)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSaveSession_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &Session{ConnectionID: "conn-1", State: StateStart, Lang: "en"}
	require.NoError(t, s.SaveSession(ctx, session))
	require.NoError(t, s.SaveSession(ctx, session))

	got, err := s.GetSession(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, StateStart, got.State)
	assert.Equal(t, "en", got.Lang)
}

func TestGetOrCreateSession_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*Session, workers)
	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.GetOrCreateSession(ctx, "conn-race", StateChat)
		}(i)
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, "conn-race", results[i].ConnectionID)
		assert.Equal(t, StateChat, results[i].State)
	}

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE connection_id = ?`, "conn-race").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGetOrCreateSession_ReturnsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &Session{ConnectionID: "conn-1", State: StateAuth}))

	got, err := s.GetOrCreateSession(ctx, "conn-1", StateChat)
	require.NoError(t, err)
	assert.Equal(t, StateAuth, got.State, "existing state must not be overwritten by the initial state")
}

func TestMigrations_AddUserNameColumn(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	// Simulate a database created before user_name existed.
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE sessions (
			connection_id    TEXT PRIMARY KEY,
			state            TEXT NOT NULL,
			lang             TEXT NOT NULL DEFAULT '',
			is_authenticated INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);
		INSERT INTO sessions VALUES ('conn-old', 'chat', 'en', 0, '2025-01-01T00:00:00Z', '2025-01-01T00:00:00Z');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetSession(context.Background(), "conn-old")
	require.NoError(t, err)
	assert.Empty(t, got.UserName)

	// Reopening must not re-apply the migration.
	require.NoError(t, s.Close())
	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	s2.Close()
}

func TestStatEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)
	events := []struct {
		kpi string
		at  time.Time
	}{
		{"user_connected", base},
		{"user_connected", base.Add(20 * time.Minute)},
		{"user_connected", base.Add(2 * time.Hour)},
		{"user_connected", base.Add(48 * time.Hour)},
		{"other", base},
	}
	for i, e := range events {
		require.NoError(t, s.RecordStat(ctx, &StatEvent{
			ID:           fmt.Sprintf("evt-%d", i),
			KPI:          e.kpi,
			ConnectionID: "c1",
			CreatedAt:    e.at,
		}))
	}

	byDay, err := s.CountStats(ctx, StatQuery{KPI: "user_connected", Granularity: GranularityDay})
	require.NoError(t, err)
	assert.Equal(t, []StatBucket{{"2025-06-01", 3}, {"2025-06-03", 1}}, byDay)

	byHour, err := s.CountStats(ctx, StatQuery{
		KPI:         "user_connected",
		From:        base,
		To:          base.Add(24 * time.Hour),
		Granularity: "hour",
	})
	require.NoError(t, err)
	assert.Equal(t, []StatBucket{{"2025-06-01T10", 2}, {"2025-06-01T12", 1}}, byHour)

	none, err := s.CountStats(ctx, StatQuery{KPI: "missing"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.CountStats(ctx, StatQuery{KPI: "user_connected", Granularity: "WEEK"})
	assert.ErrorIs(t, err, ErrInvalidGranularity)
}
