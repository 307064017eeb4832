// ABOUTME: In-process conversation memory backend
// ABOUTME: History lives in a mutex-guarded map and is lost on restart

package memory

import (
	"context"
	"sync"
)

// InMemory keeps history in process memory.
type InMemory struct {
	mu      sync.Mutex
	window  int
	history map[string][]Turn
}

// NewInMemory creates an in-process backend holding at most window turns per connection.
func NewInMemory(window int) (*InMemory, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	return &InMemory{
		window:  window,
		history: make(map[string][]Turn),
	}, nil
}

// GetHistory returns a copy of the stored turns.
func (m *InMemory) GetHistory(ctx context.Context, connectionID string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := m.history[connectionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// AddMessage appends a turn and evicts the oldest ones beyond the window.
func (m *InMemory) AddMessage(ctx context.Context, connectionID string, role Role, content string) error {
	if err := checkRole(role); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	turns := append(m.history[connectionID], Turn{Role: role, Content: content})
	if over := len(turns) - m.window; over > 0 {
		turns = append([]Turn(nil), turns[over:]...)
	}
	m.history[connectionID] = turns
	return nil
}

// Clear drops all history for a connection.
func (m *InMemory) Clear(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, connectionID)
	return nil
}

// Close is a no-op.
func (m *InMemory) Close() error {
	return nil
}
