package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more event from key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
	Close() error
}

// NoOpLimiter always allows events (rate limiting disabled).
type NoOpLimiter struct{}

func (NoOpLimiter) Allow(context.Context, string, time.Time) (bool, error) {
	return true, nil
}

func (NoOpLimiter) Close() error {
	return nil
}
