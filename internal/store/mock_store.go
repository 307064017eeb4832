// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while matching SQLiteStore semantics

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session // keyed by connection ID
	stats    []*StatEvent

	// SaveErr, when set, is returned by SaveSession.
	SaveErr error
	// LoadErr, when set, is returned by GetOrCreateSession.
	LoadErr error
	saves   int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*Session),
	}
}

// GetSession retrieves a copy of the session.
func (m *MockStore) GetSession(ctx context.Context, connectionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[connectionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// CreateSession stores a new session.
func (m *MockStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(session)
}

func (m *MockStore) createLocked(session *Session) error {
	if !session.State.Valid() {
		return fmt.Errorf("invalid session state %q", session.State)
	}
	if _, exists := m.sessions[session.ConnectionID]; exists {
		return ErrDuplicateSession
	}
	m.sessions[session.ConnectionID] = session.Clone()
	return nil
}

// SaveSession replaces the stored record.
func (m *MockStore) SaveSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	if !session.State.Valid() {
		return fmt.Errorf("invalid session state %q", session.State)
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	m.sessions[session.ConnectionID] = session.Clone()
	m.saves++
	return nil
}

// GetOrCreateSession performs the lookup and insert under one lock.
func (m *MockStore) GetOrCreateSession(ctx context.Context, connectionID string, initial State) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if s, ok := m.sessions[connectionID]; ok {
		return s.Clone(), nil
	}

	now := time.Now().UTC()
	session := &Session{
		ConnectionID: connectionID,
		State:        initial,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.createLocked(session); err != nil {
		return nil, err
	}
	return session, nil
}

// SaveCount reports how many successful SaveSession calls were made.
func (m *MockStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// RecordStat stores a copy of the event.
func (m *MockStore) RecordStat(ctx context.Context, event *StatEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := *event
	m.stats = append(m.stats, &e)
	return nil
}

// CountStats buckets events the same way as SQLiteStore.
func (m *MockStore) CountStats(ctx context.Context, q StatQuery) ([]StatBucket, error) {
	n, err := q.prefixLen()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range m.stats {
		if e.KPI != q.KPI {
			continue
		}
		if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !e.CreatedAt.Before(q.To) {
			continue
		}
		counts[formatTime(e.CreatedAt)[:n]]++
	}

	buckets := make([]StatBucket, 0, len(counts))
	for period, c := range counts {
		buckets = append(buckets, StatBucket{Period: period, Count: c})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Period < buckets[j].Period })
	return buckets, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
