// Package store persists per-connection dialog sessions and KPI stat events.
//
// # Architecture
//
// Two narrow interfaces are combined into Store:
//
//   - SessionStore: point lookups and full-record upserts keyed by connection ID
//   - StatStore: append-only KPI events written by the stats sink
//
// SQLiteStore implements both against a single database file. MockStore is an
// in-memory implementation with the same semantics for unit tests.
//
// # Sessions
//
// A Session is created implicitly on first reference (GetOrCreateSession) and is
// never hard-deleted. Closing a connection purges user fields and resets the state
// to StateStart while keeping the preferred language.
//
// GetOrCreateSession is atomic per connection ID. SQLiteStore relies on the primary
// key: a concurrent loser gets ErrDuplicateSession from the insert and re-reads the
// winner's row. MockStore holds its lock across both steps.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as RFC3339 text in UTC. Column additions go through
// runMigrations, which checks pragma_table_info before altering.
//
// # Errors
//
//   - ErrNotFound: no session for the connection ID
//   - ErrDuplicateSession: CreateSession on an existing connection ID
package store
