package messenger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/pagebot/internal/metrics"
)

const (
	webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

	// AckBody is the acknowledgement the platform expects for a delivered batch.
	AckBody = "EVENT_RECEIVED"
)

type rateLimiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

type replyDispatcher interface {
	Dispatch(ctx context.Context, evt Event)
}

// WebhookConfig carries the secrets the webhook needs on every request.
type WebhookConfig struct {
	Path            string
	PageAccessToken string
	VerifyToken     string
	AppSecret       string
}

func (c WebhookConfig) complete() bool {
	return c.PageAccessToken != "" && c.VerifyToken != "" && c.AppSecret != ""
}

// WebhookHandler is the page webhook ingress: subscription verification on
// GET, signed event delivery on POST.
type WebhookHandler struct {
	logger     *slog.Logger
	cfg        WebhookConfig
	limiter    rateLimiter
	dispatcher replyDispatcher
	now        func() time.Time
}

func NewWebhookHandler(log *slog.Logger, cfg WebhookConfig, limiter rateLimiter, dispatcher replyDispatcher) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/webhook"
	}
	return &WebhookHandler{
		logger:     log.With(slog.String("handler", "messenger_webhook")),
		cfg:        cfg,
		limiter:    limiter,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.Any(h.cfg.Path, h.Handle)
}

// Handle routes by method and records the outcome.
func (h *WebhookHandler) Handle(c echo.Context) error {
	err := h.route(c)
	status := c.Response().Status
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
	} else if err != nil {
		status = http.StatusInternalServerError
	}
	metrics.WebhookRequests.WithLabelValues(c.Request().Method, strconv.Itoa(status)).Inc()
	return err
}

func (h *WebhookHandler) route(c echo.Context) error {
	method := c.Request().Method
	if method != http.MethodGet && method != http.MethodPost {
		c.Response().Header().Set(echo.HeaderAllow, "GET, POST")
		return echo.NewHTTPError(http.StatusMethodNotAllowed, "method not allowed")
	}
	if !h.cfg.complete() || h.dispatcher == nil {
		h.logger.Error("webhook secrets not configured")
		return echo.NewHTTPError(http.StatusInternalServerError, "server misconfigured")
	}
	if method == http.MethodGet {
		return h.Verify(c)
	}
	return h.Receive(c)
}

// Verify answers the platform's subscription handshake.
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	if mode != "subscribe" || token != h.cfg.VerifyToken {
		h.logger.Warn("webhook verification rejected", slog.String("mode", mode))
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	h.logger.Info("webhook verified")
	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}

// Receive authenticates and parses one delivery, then dispatches each
// accepted event without waiting for the reply.
func (h *WebhookHandler) Receive(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}
	if !VerifySignature(payload, c.Request().Header.Get(SignatureHeader), h.cfg.AppSecret) {
		h.logger.Warn("rejected webhook", slog.Any("error", ErrInvalidSignature))
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidSignature.Error())
	}

	batch, err := ParseBatch(payload)
	if err != nil {
		if errors.Is(err, ErrUnsupportedObject) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := context.WithoutCancel(c.Request().Context())
	dedup := NewDeduplicator()
	for _, entry := range batch.Entry {
		for _, m := range entry.Messaging {
			h.accept(ctx, dedup, entry.ID, m)
		}
	}
	return c.String(http.StatusOK, AckBody)
}

func (h *WebhookHandler) accept(ctx context.Context, dedup *Deduplicator, pageID string, m Messaging) {
	if !dedup.Accept(m.MessageID()) {
		h.drop(metrics.ReasonDuplicate, m)
		return
	}
	if m.SenderID() == "" {
		h.drop(metrics.ReasonNoSender, m)
		return
	}
	if m.Message == nil {
		h.drop(metrics.ReasonNoMessage, m)
		return
	}
	if m.Message.IsEcho {
		h.drop(metrics.ReasonEcho, m)
		return
	}
	evt := m.ToEvent(pageID)
	if strings.TrimSpace(evt.Text) == "" && !evt.HasImages() {
		h.drop(metrics.ReasonNoMessage, m)
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, evt.SenderID, h.now())
		if err != nil {
			// Fail open.
			metrics.RateLimitErrors.Inc()
			h.logger.Warn("rate limiter unavailable", slog.String("sender_id", evt.SenderID), slog.Any("error", err))
		} else if !allowed {
			h.drop(metrics.ReasonThrottled, m)
			return
		}
	}

	metrics.EventsAccepted.Inc()
	h.dispatcher.Dispatch(ctx, evt)
}

func (h *WebhookHandler) drop(reason string, m Messaging) {
	metrics.EventsDropped.WithLabelValues(reason).Inc()
	h.logger.Debug("event skipped",
		slog.String("reason", reason),
		slog.String("sender_id", m.SenderID()),
		slog.String("message_id", m.MessageID()),
	)
}
