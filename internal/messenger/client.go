package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/memohai/pagebot/internal/metrics"
)

const (
	defaultSendTimeout  = 10 * time.Second
	defaultRetryMax     = 3
	defaultRetryBackoff = 250 * time.Millisecond
	maxErrorBodyBytes   = 4 << 10
)

// APIError is a non-2xx Send API response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("send api status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the failure is worth retrying (5xx or 429).
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// ClientConfig configures the Send API client.
type ClientConfig struct {
	// GraphURL is the versioned Graph API root, e.g. https://graph.facebook.com/v18.0.
	GraphURL        string
	PageAccessToken string
	AppSecret       string
	Timeout         time.Duration
	RetryMax        int
	RetryBackoff    time.Duration
	HTTPClient      *http.Client
}

// Client delivers text replies through the Send API.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	endpoint   string
	token      string
	proof      string
	timeout    time.Duration
	retryMax   int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Send API client. Attempts back off exponentially from
// RetryBackoff (250ms, 500ms, 1s with the defaults).
func NewClient(log *slog.Logger, cfg ClientConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Client{
		logger:     log.With(slog.String("component", "messenger_client")),
		httpClient: httpClient,
		endpoint:   strings.TrimRight(cfg.GraphURL, "/") + "/me/messages",
		token:      cfg.PageAccessToken,
		proof:      AppSecretProof(cfg.PageAccessToken, cfg.AppSecret),
		timeout:    cfg.Timeout,
		retryMax:   cfg.RetryMax,
		backoff:    cfg.RetryBackoff,
		sleep:      sleepContext,
	}
}

type sendRequest struct {
	Recipient     Participant `json:"recipient"`
	MessagingType string      `json:"messaging_type"`
	Message       sendMessage `json:"message"`
}

type sendMessage struct {
	Text string `json:"text"`
}

// SendText sends text to recipientID, split into Send API sized messages.
// It stops at the first chunk that fails.
func (c *Client) SendText(ctx context.Context, recipientID, text string) error {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return errors.New("recipient id is required")
	}
	chunks := ChunkText(text, MaxTextLength)
	if len(chunks) == 0 {
		return errors.New("message text is required")
	}
	for _, chunk := range chunks {
		if err := c.send(ctx, recipientID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, recipientID, text string) error {
	payload, err := json.Marshal(sendRequest{
		Recipient:     Participant{ID: recipientID},
		MessagingType: "RESPONSE",
		Message:       sendMessage{Text: text},
	})
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryMax; attempt++ {
		lastErr = c.sendOnce(ctx, payload)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == c.retryMax {
			break
		}
		delay := c.backoff << (attempt - 1)
		metrics.SendRetries.Inc()
		c.logger.Warn("send retry",
			slog.String("recipient_id", recipientID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", lastErr),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func (c *Client) sendOnce(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("access_token", c.token)
	query.Set("appsecret_proof", c.proof)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+query.Encode(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	// Transport failures are retried unless the caller gave up.
	return !errors.Is(err, context.Canceled)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
