// ABOUTME: SQLite implementation for KPI stat events
// ABOUTME: Stores connection-level statistics spooled by the stats sink and counts them per period

package store

import (
	"context"
	"fmt"
)

// RecordStat stores a KPI event.
func (s *SQLiteStore) RecordStat(ctx context.Context, event *StatEvent) error {
	query := `
		INSERT INTO stat_events (id, kpi, connection_id, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.KPI,
		event.ConnectionID,
		formatTime(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting stat event: %w", err)
	}

	s.logger.Debug("recorded stat", "kpi", event.KPI, "connection_id", event.ConnectionID)
	return nil
}

// CountStats groups a KPI's events into periods of the query granularity,
// oldest first.
func (s *SQLiteStore) CountStats(ctx context.Context, q StatQuery) ([]StatBucket, error) {
	n, err := q.prefixLen()
	if err != nil {
		return nil, err
	}

	query := `SELECT substr(created_at, 1, ?) AS period, COUNT(*) FROM stat_events WHERE kpi = ?`
	args := []any{n, q.KPI}
	if !q.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, formatTime(q.To))
	}
	query += ` GROUP BY period ORDER BY period`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("counting stat events: %w", err)
	}
	defer rows.Close()

	var buckets []StatBucket
	for rows.Next() {
		var b StatBucket
		if err := rows.Scan(&b.Period, &b.Count); err != nil {
			return nil, fmt.Errorf("scanning stat bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stat buckets: %w", err)
	}
	return buckets, nil
}
