// ABOUTME: Conversation memory contract and backend selection
// ABOUTME: Keeps a bounded FIFO window of user/assistant turns per connection

package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Backend stores conversation history.
// GetHistory returns turns oldest first, never more than the configured window.
type Backend interface {
	GetHistory(ctx context.Context, connectionID string) ([]Turn, error)
	AddMessage(ctx context.Context, connectionID string, role Role, content string) error
	Clear(ctx context.Context, connectionID string) error
	Close() error
}

// Backend kinds accepted by New.
const (
	KindMemory = "memory"
	KindRedis  = "redis"
)

const (
	// DefaultWindow is the number of turns kept when none is configured.
	DefaultWindow = 8
	// DefaultTTL bounds how long an idle conversation survives in Redis.
	DefaultTTL = 4 * time.Hour
)

// ErrInvalidWindow is returned when the window size is not positive.
var ErrInvalidWindow = errors.New("memory window must be positive")

// ErrInvalidRole is returned by AddMessage for roles other than user/assistant.
var ErrInvalidRole = errors.New("invalid role")

// Config selects and tunes a backend.
type Config struct {
	Backend  string
	Window   int
	RedisURL string
	TTL      time.Duration
}

// New constructs the backend named by cfg.Backend. An empty backend means in-process.
func New(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", KindMemory:
		return NewInMemory(cfg.Window)
	case KindRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("redis memory backend requires a redis url")
		}
		return NewRedisFromURL(cfg.RedisURL, cfg.Window, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

func checkWindow(window int) error {
	if window <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWindow, window)
	}
	return nil
}

func checkRole(role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return nil
}
