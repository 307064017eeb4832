// ABOUTME: Redis conversation memory backend shared across processes
// ABOUTME: Appends and trims in one MULTI/EXEC and expires idle histories after a TTL

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chat:history:"

// Redis stores history in a Redis list per connection.
type Redis struct {
	client *redis.Client
	window int
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisFromURL parses a redis:// URL and connects.
func NewRedisFromURL(url string, window int, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), window, ttl)
}

// NewRedis wraps an existing client. A zero ttl uses DefaultTTL.
func NewRedis(client *redis.Client, window int, ttl time.Duration) (*Redis, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client: client,
		window: window,
		ttl:    ttl,
		logger: slog.Default().With("component", "memory.redis"),
	}, nil
}

func key(connectionID string) string {
	return keyPrefix + connectionID
}

// GetHistory reads the list oldest first. Entries that fail to decode are skipped.
func (r *Redis) GetHistory(ctx context.Context, connectionID string) ([]Turn, error) {
	raw, err := r.client.LRange(ctx, key(connectionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			r.logger.Warn("skipping undecodable history entry", "connection_id", connectionID, "error", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// AddMessage appends, trims to the window, and refreshes the TTL atomically.
func (r *Redis) AddMessage(ctx context.Context, connectionID string, role Role, content string) error {
	if err := checkRole(role); err != nil {
		return err
	}

	data, err := json.Marshal(Turn{Role: role, Content: content})
	if err != nil {
		return fmt.Errorf("encoding turn: %w", err)
	}

	k := key(connectionID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, data)
		pipe.LTrim(ctx, k, int64(-r.window), -1)
		pipe.Expire(ctx, k, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// Clear deletes the connection's list.
func (r *Redis) Clear(ctx context.Context, connectionID string) error {
	if err := r.client.Del(ctx, key(connectionID)).Err(); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
