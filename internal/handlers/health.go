package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/pagebot/internal/healthcheck"
)

const readinessTimeout = 5 * time.Second

type readinessEvaluator interface {
	Evaluate(ctx context.Context) healthcheck.Report
}

// HealthHandler serves the readiness report of the backing services.
type HealthHandler struct {
	logger    *slog.Logger
	evaluator readinessEvaluator
}

func NewHealthHandler(log *slog.Logger, evaluator readinessEvaluator) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		logger:    log.With(slog.String("handler", "health")),
		evaluator: evaluator,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health/ready", h.Ready)
}

// Ready answers 200 when no dependency check is in error, 503 otherwise.
func (h *HealthHandler) Ready(c echo.Context) error {
	if h.evaluator == nil {
		return c.JSON(http.StatusOK, healthcheck.Report{Status: healthcheck.StatusOK, Checks: []healthcheck.CheckResult{}})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	report := h.evaluator.Evaluate(ctx)
	if !report.Ready() {
		h.logger.Warn("not ready", slog.String("status", report.Status), slog.Int("checks", len(report.Checks)))
		return c.JSON(http.StatusServiceUnavailable, report)
	}
	return c.JSON(http.StatusOK, report)
}
