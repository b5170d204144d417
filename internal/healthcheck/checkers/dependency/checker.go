package dependencychecker

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/memohai/pagebot/internal/healthcheck"
)

const checkTypeDependency = "dependency.ping"

// PingFunc reports whether a backing service is reachable.
type PingFunc func(ctx context.Context) error

// Checker pings every registered backing service.
type Checker struct {
	logger  *slog.Logger
	timeout time.Duration
	pings   map[string]PingFunc
}

// NewChecker creates a dependency health checker.
func NewChecker(log *slog.Logger, timeout time.Duration) *Checker {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_dependency")),
		timeout: timeout,
		pings:   map[string]PingFunc{},
	}
}

// Add registers ping under name. A nil ping is ignored.
func (c *Checker) Add(name string, ping PingFunc) {
	name = strings.TrimSpace(name)
	if name == "" || ping == nil {
		return
	}
	c.pings[name] = ping
}

// ListChecks pings each dependency with its own timeout.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	names := make([]string, 0, len(c.pings))
	for name := range c.pings {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make([]healthcheck.CheckResult, 0, len(names))
	for _, name := range names {
		checks = append(checks, c.check(ctx, name, c.pings[name]))
	}
	return checks
}

func (c *Checker) check(ctx context.Context, name string, ping PingFunc) healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:       "dependency." + name,
		Type:     checkTypeDependency,
		Subtitle: name,
		Status:   healthcheck.StatusOK,
		Summary:  name + " is reachable.",
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := ping(ctx)
	item.Metadata = map[string]any{"latency_ms": time.Since(start).Milliseconds()}
	if err != nil {
		c.logger.Warn("dependency unreachable", slog.String("dependency", name), slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = name + " is unreachable."
		item.Detail = err.Error()
	}
	return item
}
