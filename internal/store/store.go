// ABOUTME: Store interfaces and data types for coven-concierge persistence
// ABOUTME: Defines the Session record, dialog states, and the SessionStore contract

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when creating a session whose connection ID already exists
var ErrDuplicateSession = errors.New("session already exists")

// ErrInvalidGranularity is returned for a stat query bucket width other than HOUR, DAY, or MONTH.
var ErrInvalidGranularity = errors.New("invalid stat granularity")

// State is a position in the dialog state machine.
type State string

// Dialog states. There is no terminal state.
const (
	StateStart State = "start" // purged / disconnected, pre-greeting
	StateChat  State = "chat"  // default conversational state
	StateAuth  State = "auth"  // waiting for a credential proof
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateStart, StateChat, StateAuth:
		return true
	}
	return false
}

// Session is the persisted dialog record for one connection.
// ConnectionID is the primary key and never changes.
type Session struct {
	ConnectionID    string
	State           State
	Lang            string // ISO 639-1, empty until a profile event sets it
	IsAuthenticated bool
	UserName        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a copy that callers can mutate freely.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// Purge resets user-specific fields and moves the session to StateStart.
// ConnectionID, Lang and timestamps are kept so a reconnect retains preferences.
func (s *Session) Purge() {
	s.State = StateStart
	s.IsAuthenticated = false
	s.UserName = ""
}

// StatEvent is a recorded KPI occurrence.
type StatEvent struct {
	ID           string
	KPI          string
	ConnectionID string
	CreatedAt    time.Time
}

// SessionStore defines point lookups and full-record upserts keyed by connection ID.
type SessionStore interface {
	// GetSession returns ErrNotFound when the connection has no session.
	GetSession(ctx context.Context, connectionID string) (*Session, error)

	// CreateSession inserts a new session, returning ErrDuplicateSession if one exists.
	CreateSession(ctx context.Context, session *Session) error

	// SaveSession replaces the whole record, inserting it if absent.
	SaveSession(ctx context.Context, session *Session) error

	// GetOrCreateSession loads the session or creates it in the initial state.
	// Concurrent callers for the same connection ID observe a single created record.
	GetOrCreateSession(ctx context.Context, connectionID string, initial State) (*Session, error)
}

// StatStore persists KPI events.
type StatStore interface {
	RecordStat(ctx context.Context, event *StatEvent) error
	CountStats(ctx context.Context, q StatQuery) ([]StatBucket, error)
}

// Granularity is the bucket width of a stat query.
type Granularity string

const (
	GranularityHour  Granularity = "HOUR"
	GranularityDay   Granularity = "DAY"
	GranularityMonth Granularity = "MONTH"
)

// prefixLen is how many leading characters of an RFC 3339 timestamp name
// the bucket: "2006-01-02T15", "2006-01-02", or "2006-01".
func (g Granularity) prefixLen() (int, bool) {
	switch Granularity(strings.ToUpper(string(g))) {
	case GranularityHour:
		return 13, true
	case GranularityDay, "":
		return 10, true
	case GranularityMonth:
		return 7, true
	}
	return 0, false
}

// StatQuery selects KPI events recorded in [From, To). Zero bounds are open.
type StatQuery struct {
	KPI         string
	From        time.Time
	To          time.Time
	Granularity Granularity
}

func (q StatQuery) prefixLen() (int, error) {
	n, ok := q.Granularity.prefixLen()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGranularity, q.Granularity)
	}
	return n, nil
}

// StatBucket is the event count of one period, labelled by its timestamp prefix.
type StatBucket struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// Store is everything the service persists.
type Store interface {
	SessionStore
	StatStore

	// Close releases any resources held by the store
	Close() error
}
