package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/engramlabs/engram/pkg/types"
)

// RedisBuffer keeps session history in a Redis list per session key, so
// multiple engine processes can share one conversation window. Each append
// refreshes the key's TTL.
type RedisBuffer struct {
	client   *redis.Client
	capacity int
	ttl      time.Duration
}

// RedisConfig configures the Redis-backed session buffer.
type RedisConfig struct {
	// Addr is the Redis host:port (default: localhost:6379).
	Addr string

	// Password authenticates when set.
	Password string

	// DB selects the Redis logical database.
	DB int

	// Capacity is the max messages kept per session (default: 50).
	Capacity int

	// TTL is how long an idle session's history survives (default: 1h).
	TTL time.Duration
}

// NewRedisBuffer connects to Redis and verifies the connection.
func NewRedisBuffer(ctx context.Context, cfg RedisConfig) (*RedisBuffer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 50
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBuffer{
		client:   client,
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
	}, nil
}

var _ Buffer = (*RedisBuffer)(nil)

func (b *RedisBuffer) key(sessionKey string) string {
	return "engram:session:" + sessionKey
}

// Append pushes messages onto the session list and trims it to capacity.
func (b *RedisBuffer) Append(ctx context.Context, sessionKey string, msgs ...types.Message) error {
	if sessionKey == "" || len(msgs) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, data)
	}

	key := b.key(sessionKey)
	pipe := b.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-b.capacity), -1)
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append session messages: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest messages, oldest first.
func (b *RedisBuffer) Recent(ctx context.Context, sessionKey string, limit int) ([]types.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw, err := b.client.LRange(ctx, b.key(sessionKey), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session messages: %w", err)
	}

	msgs := make([]types.Message, 0, len(raw))
	for _, item := range raw {
		var msg types.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Search scans the session window for content containing the query,
// newest first.
func (b *RedisBuffer) Search(ctx context.Context, sessionKey, query string, limit int) ([]types.Message, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}

	msgs, err := b.Recent(ctx, sessionKey, 0)
	if err != nil {
		return nil, err
	}

	var out []types.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.Contains(strings.ToLower(msgs[i].Content), query) {
			out = append(out, msgs[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Close releases the Redis connection.
func (b *RedisBuffer) Close() error {
	return b.client.Close()
}
