package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pagebot:ratelimit:"

// The first hit of a window creates the key and arms its expiry, so the
// window boundary is owned by Redis and never read stale. A key left without
// a TTL is re-armed.
var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
	return 0
end
return 1
`)

// RedisLimiter is a fixed-window counter shared by every process using the
// same Redis. Window boundaries follow Redis time, not the now argument.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisLimiter wraps an existing client.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) (*RedisLimiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if window < time.Millisecond {
		return nil, fmt.Errorf("window must be at least 1ms, got %s", window)
	}
	return &RedisLimiter{client: client, limit: int64(limit), window: window}, nil
}

// DialRedisLimiter connects to redisURL and checks the connection.
func DialRedisLimiter(ctx context.Context, redisURL string, limit int, window time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisLimiter(client, limit, window)
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, _ time.Time) (bool, error) {
	result, err := fixedWindowScript.Run(ctx, r.client, []string{redisKeyPrefix + key}, r.window.Milliseconds(), r.limit).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return result == 1, nil
}

// Ping reports whether Redis is reachable.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
