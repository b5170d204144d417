package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// FixedWindow is an in-process fixed-window counter per key. The bucket store
// is bounded: once maxKeys senders are tracked, the least recently seen one is
// evicted. Expired buckets are reset on access and removed by Sweep.
type FixedWindow struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, bucket]
	limit   int
	window  time.Duration
}

// NewFixedWindow allows limit events per key per window, tracking at most maxKeys keys.
func NewFixedWindow(limit int, window time.Duration, maxKeys int) (*FixedWindow, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}
	buckets, err := lru.New[string, bucket](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("create bucket cache: %w", err)
	}
	return &FixedWindow{buckets: buckets, limit: limit, window: window}, nil
}

// Allow counts one event for key at now.
func (l *FixedWindow) Allow(_ context.Context, key string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets.Get(key)
	if !ok || !now.Before(b.resetAt) {
		l.buckets.Add(key, bucket{count: 1, resetAt: now.Add(l.window)})
		return true, nil
	}
	if b.count < l.limit {
		b.count++
		l.buckets.Add(key, b)
		return true, nil
	}
	return false, nil
}

// Sweep drops every bucket whose window has ended by now and returns how many
// were removed.
func (l *FixedWindow) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, key := range l.buckets.Keys() {
		b, ok := l.buckets.Peek(key)
		if ok && !now.Before(b.resetAt) {
			l.buckets.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *FixedWindow) Len() int {
	return l.buckets.Len()
}

func (l *FixedWindow) Close() error {
	return nil
}

// Sweeper runs FixedWindow.Sweep on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper schedules sweeps of l every interval.
func NewSweeper(log *slog.Logger, l *FixedWindow, interval time.Duration) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Sweeper{
		cron:   cron.New(),
		logger: log.With(slog.String("component", "ratelimit_sweeper")),
	}
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		removed := l.Sweep(time.Now())
		if removed > 0 {
			s.logger.Debug("swept expired rate buckets",
				slog.Int("removed", removed),
				slog.Int("remaining", l.Len()),
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
