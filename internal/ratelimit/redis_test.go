package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l, err := NewRedisLimiter(client, limit, window)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	l, mr := newRedisLimiter(t, 4, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ok, err := l.Allow(ctx, "psid-1", time.Now())
		require.NoError(t, err)
		assert.True(t, ok, "event %d", i+1)
	}
	ok, err := l.Allow(ctx, "psid-1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists(redisKeyPrefix+"psid-1"))
	assert.Greater(t, mr.TTL(redisKeyPrefix+"psid-1"), time.Duration(0))

	mr.FastForward(30 * time.Second)
	ok, err = l.Allow(ctx, "psid-1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok, "window expired")
}

func TestRedisLimiterRearmsMissingTTL(t *testing.T) {
	l, mr := newRedisLimiter(t, 2, 10*time.Second)
	require.NoError(t, mr.Set(redisKeyPrefix+"psid-1", "7"))

	ok, err := l.Allow(context.Background(), "psid-1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, mr.TTL(redisKeyPrefix+"psid-1"), time.Duration(0))
}

func TestRedisLimiterReportsBackendErrors(t *testing.T) {
	l, mr := newRedisLimiter(t, 2, 10*time.Second)
	mr.Close()

	_, err := l.Allow(context.Background(), "psid-1", time.Now())
	assert.Error(t, err)
}

func TestDialRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)

	l, err := DialRedisLimiter(context.Background(), "redis://"+mr.Addr(), 1, time.Second)
	require.NoError(t, err)
	defer l.Close()
	assert.NoError(t, l.Ping(context.Background()))

	_, err = DialRedisLimiter(context.Background(), "://bad", 1, time.Second)
	assert.Error(t, err)
}
