// ABOUTME: Best-effort KPI sink that spools events to the store in the background
// ABOUTME: RecordEvent never blocks; events are dropped when the spool is full

package stats

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-concierge/internal/store"
)

const writeTimeout = 5 * time.Second

type event struct {
	kpi          string
	connectionID string
	at           time.Time
}

// Recorder persists one KPI event.
type Recorder interface {
	RecordStat(ctx context.Context, event *store.StatEvent) error
}

// Sink spools KPI events into a Recorder.
type Sink struct {
	store   Recorder
	logger  *slog.Logger
	queue   chan event
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewSink starts a sink with room for capacity pending events.
func NewSink(s Recorder, capacity int, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = 256
	}
	sink := &Sink{
		store:  s,
		logger: logger.With("component", "stats"),
		queue:  make(chan event, capacity),
		done:   make(chan struct{}),
	}
	go sink.run()
	return sink
}

// RecordEvent queues a KPI occurrence.
func (s *Sink) RecordEvent(kpi, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.queue <- event{kpi: kpi, connectionID: connectionID, at: time.Now().UTC()}:
	default:
		s.dropped.Add(1)
		s.logger.Warn("stat spool full, dropping event", "kpi", kpi, "connection_id", connectionID)
	}
}

// Dropped reports how many events were discarded because the spool was full.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Sink) run() {
	defer close(s.done)

	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.store.RecordStat(ctx, &store.StatEvent{
			ID:           uuid.New().String(),
			KPI:          ev.kpi,
			ConnectionID: ev.connectionID,
			CreatedAt:    ev.at,
		})
		cancel()
		if err != nil {
			s.logger.Warn("failed to record stat", "kpi", ev.kpi, "connection_id", ev.connectionID, "error", err)
		}
	}
}

// Close flushes queued events, waiting until ctx ends at the latest.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		if n := s.Dropped(); n > 0 {
			s.logger.Warn("stat events dropped while the spool was full", "dropped", n)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
