// Package deadletter publishes reply dispatches that failed so they can be
// inspected or replayed outside the request path.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/pagebot/internal/metrics"
)

// Record describes one failed dispatch.
type Record struct {
	ID        string    `json:"id"`
	PageID    string    `json:"page_id,omitempty"`
	SenderID  string    `json:"sender_id"`
	MessageID string    `json:"message_id,omitempty"`
	Kind      string    `json:"kind"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Time      time.Time `json:"time"`
}

// NewRecord stamps a record with a fresh id and the current time.
func NewRecord(senderID, kind, stage string, err error) Record {
	rec := Record{
		ID:       uuid.NewString(),
		SenderID: senderID,
		Kind:     kind,
		Stage:    stage,
		Time:     time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

func (r Record) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal dead letter: %w", err)
	}
	return data, nil
}

// Publisher delivers records to a broker.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// NopPublisher discards records.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Record) error { return nil }

func (NopPublisher) Close() error { return nil }

// Sink publishes best effort: failures are logged and counted, never returned.
type Sink struct {
	logger    *slog.Logger
	publisher Publisher
	timeout   time.Duration
}

func NewSink(log *slog.Logger, publisher Publisher, timeout time.Duration) *Sink {
	if log == nil {
		log = slog.Default()
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{
		logger:    log.With(slog.String("component", "deadletter")),
		publisher: publisher,
		timeout:   timeout,
	}
}

func (s *Sink) Send(ctx context.Context, rec Record) {
	if _, ok := s.publisher.(NopPublisher); ok {
		metrics.DeadLetters.WithLabelValues("dropped").Inc()
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, rec); err != nil {
		metrics.DeadLetters.WithLabelValues("error").Inc()
		s.logger.Error("dead letter publish failed",
			slog.String("id", rec.ID),
			slog.String("sender_id", rec.SenderID),
			slog.Any("error", err),
		)
		return
	}
	metrics.DeadLetters.WithLabelValues("published").Inc()
}

func (s *Sink) Close() error {
	return s.publisher.Close()
}
