// ABOUTME: Per-connection event serialization with one actor goroutine per connection
// ABOUTME: Events for one connection run in order; different connections run in parallel

package dispatch

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/2389/coven-concierge/internal/dialog"
)

var (
	// ErrClosed is returned by Submit after Close has been called.
	ErrClosed = errors.New("dispatcher closed")
	// ErrQueueFull is returned when a connection has too many pending events.
	ErrQueueFull = errors.New("connection queue full")
	// ErrNoConnection is returned for events without a connection ID.
	ErrNoConnection = errors.New("event has no connection id")
)

// Handler processes a single event to completion.
type Handler interface {
	Handle(ctx context.Context, ev dialog.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev dialog.Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev dialog.Event) error { return f(ctx, ev) }

// Config tunes the dispatcher. Zero values take the defaults.
type Config struct {
	MaxPending  int           // per connection
	IdleTimeout time.Duration // actor exits after this long without events
	DedupeTTL   time.Duration
	DedupeSize  int
}

func (c Config) withDefaults() Config {
	if c.MaxPending <= 0 {
		c.MaxPending = 64
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = 10 * time.Minute
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = 10000
	}
	return c
}

type actor struct {
	connectionID string
	pending      *list.List // FIFO of dialog.Event, guarded by Dispatcher.mu
	wake         chan struct{}
}

// Dispatcher fans events out to per-connection actors.
type Dispatcher struct {
	handler Handler
	cfg     Config
	logger  *slog.Logger
	seen    *seenCache

	// handler context, cancelled only when Close gives up waiting
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	actors   map[string]*actor
	closed   bool
	stopping chan struct{}
	wg       sync.WaitGroup
}

// New creates a dispatcher delivering to h.
func New(h Handler, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler:  h,
		cfg:      cfg,
		logger:   logger.With("component", "dispatch"),
		seen:     newSeenCache(cfg.DedupeTTL, cfg.DedupeSize, time.Minute),
		ctx:      ctx,
		cancel:   cancel,
		actors:   make(map[string]*actor),
		stopping: make(chan struct{}),
	}
}

// Submit queues ev for its connection and returns without waiting for it to
// be handled. Events carrying a message ID already seen are dropped.
func (d *Dispatcher) Submit(ev dialog.Event) error {
	if ev == nil {
		return nil
	}
	connID := ev.Connection()
	if connID == "" {
		return ErrNoConnection
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	a, ok := d.actors[connID]
	if ok && a.pending.Len() >= d.cfg.MaxPending {
		return fmt.Errorf("%w: %s", ErrQueueFull, connID)
	}

	if k, isKeyed := ev.(dialog.Keyed); isKeyed && k.MessageKey() != "" {
		if d.seen.seen(connID + "/" + k.MessageKey()) {
			d.logger.Debug("dropping duplicate event", "connection_id", connID, "message_id", k.MessageKey())
			return nil
		}
	}

	if !ok {
		a = &actor{
			connectionID: connID,
			pending:      list.New(),
			wake:         make(chan struct{}, 1),
		}
		d.actors[connID] = a
		d.wg.Add(1)
		go d.run(a)
	}

	a.pending.PushBack(ev)

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// Active returns the number of live actors.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.actors)
}

func (d *Dispatcher) run(a *actor) {
	defer d.wg.Done()

	for {
		if ev, ok := d.next(a); ok {
			d.process(a.connectionID, ev)
			continue
		}

		idle := time.NewTimer(d.cfg.IdleTimeout)
		select {
		case <-a.wake:
			idle.Stop()
		case <-idle.C:
			if d.retire(a) {
				return
			}
		case <-d.stopping:
			idle.Stop()
			if d.retire(a) {
				return
			}
		}
	}
}

func (d *Dispatcher) next(a *actor) (dialog.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	front := a.pending.Front()
	if front == nil {
		return nil, false
	}
	a.pending.Remove(front)
	return front.Value.(dialog.Event), true
}

// retire removes the actor if nothing arrived since it last looked.
func (d *Dispatcher) retire(a *actor) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a.pending.Len() > 0 {
		return false
	}
	delete(d.actors, a.connectionID)
	return true
}

func (d *Dispatcher) process(connID string, ev dialog.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic handling event",
				"connection_id", connID,
				"panic", r,
				"stack_trace", string(debug.Stack()))
		}
	}()

	start := time.Now()
	if err := d.handler.Handle(d.ctx, ev); err != nil {
		d.logger.Warn("event handled with error",
			"connection_id", connID,
			"event", fmt.Sprintf("%T", ev),
			"error", err)
		return
	}
	d.logger.Debug("event handled",
		"connection_id", connID,
		"event", fmt.Sprintf("%T", ev),
		"duration", time.Since(start))
}

// Close stops accepting events and waits for queued ones to finish. If ctx
// ends first, remaining handlers see a cancelled context and Close returns
// without waiting for them.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stopping)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	defer d.seen.close()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
