// Package reply turns accepted messaging events into outbound replies.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/memohai/pagebot/internal/catalog"
	"github.com/memohai/pagebot/internal/chat"
	"github.com/memohai/pagebot/internal/deadletter"
	"github.com/memohai/pagebot/internal/messenger"
	"github.com/memohai/pagebot/internal/metrics"
)

// ErrCollaborator wraps every failure of the text, search or send backends.
var ErrCollaborator = errors.New("collaborator failure")

const (
	KindText  = "text"
	KindImage = "image"
	KindNone  = "none"

	// SearchApology is sent when an image search fails.
	SearchApology = "Sorry, I couldn't search for similar products right now. Please try again later."
)

type textGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type imageSearcher interface {
	SearchByImage(ctx context.Context, imageURL string, limit int, threshold float64) ([]catalog.Match, error)
}

type textSender interface {
	SendText(ctx context.Context, recipientID, text string) error
}

type deadLetterSink interface {
	Send(ctx context.Context, rec deadletter.Record)
}

// Config bounds dispatch work.
type Config struct {
	MaxTextChars    int
	MaxInFlight     int
	SearchLimit     int
	SearchThreshold float64
}

// Dispatcher runs one goroutine per accepted event. At most MaxInFlight of
// them call collaborators at a time; the rest wait for a slot.
type Dispatcher struct {
	logger    *slog.Logger
	generator textGenerator
	searcher  imageSearcher
	sender    textSender
	dead      deadLetterSink
	cfg       Config
	slots     *semaphore.Weighted
	wg        sync.WaitGroup
}

// NewDispatcher wires the collaborators. searcher may be nil when no catalog
// is configured; image events then get the apology reply.
func NewDispatcher(log *slog.Logger, generator textGenerator, searcher imageSearcher, sender textSender, dead deadLetterSink, cfg Config) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = chat.DefaultMaxChars
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = catalog.DefaultSearchLimit
	}
	if cfg.SearchThreshold <= 0 {
		cfg.SearchThreshold = catalog.DefaultSearchThreshold
	}
	return &Dispatcher{
		logger:    log.With(slog.String("service", "reply_dispatcher")),
		generator: generator,
		searcher:  searcher,
		sender:    sender,
		dead:      dead,
		cfg:       cfg,
		slots:     semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}
}

// Dispatch starts handling evt in the background and returns immediately.
// ctx must not be tied to the lifetime of the HTTP request.
func (d *Dispatcher) Dispatch(ctx context.Context, evt messenger.Event) {
	d.wg.Add(1)
	metrics.DispatchInFlight.Inc()
	go func() {
		defer d.wg.Done()
		defer metrics.DispatchInFlight.Dec()
		kind := Classify(evt)
		defer func() {
			if r := recover(); r != nil {
				metrics.Dispatches.WithLabelValues(kind, "panic").Inc()
				d.logger.Error("dispatch panic",
					slog.String("sender_id", evt.SenderID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()

		if err := d.slots.Acquire(ctx, 1); err != nil {
			metrics.Dispatches.WithLabelValues(kind, "cancelled").Inc()
			return
		}
		defer d.slots.Release(1)

		err := d.Process(ctx, evt)
		if err != nil {
			metrics.Dispatches.WithLabelValues(kind, "error").Inc()
			return
		}
		metrics.Dispatches.WithLabelValues(kind, "ok").Inc()
	}()
}

// Wait blocks until every dispatched task has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Classify reports which reply path evt takes. Images win over text.
func Classify(evt messenger.Event) string {
	if evt.HasImages() {
		return KindImage
	}
	if strings.TrimSpace(evt.Text) != "" {
		return KindText
	}
	return KindNone
}

// Process handles evt synchronously. Failures are logged and dead-lettered
// here; the returned error is for accounting only.
func (d *Dispatcher) Process(ctx context.Context, evt messenger.Event) error {
	var err error
	switch Classify(evt) {
	case KindImage:
		err = d.replyToImage(ctx, evt)
	case KindText:
		err = d.replyToText(ctx, evt)
	default:
		return nil
	}
	if err != nil {
		d.fail(ctx, evt, err)
	}
	return err
}

func (d *Dispatcher) replyToImage(ctx context.Context, evt messenger.Event) error {
	imageURL := evt.Images[0].URL
	var matches []catalog.Match
	err := d.observe("search", func() error {
		if d.searcher == nil {
			return catalog.ErrNotConfigured
		}
		var err error
		matches, err = d.searcher.SearchByImage(ctx, imageURL, d.cfg.SearchLimit, d.cfg.SearchThreshold)
		return err
	})
	if err != nil {
		// Best effort.
		if sendErr := d.send(ctx, evt.SenderID, SearchApology); sendErr != nil {
			d.logger.Warn("apology send failed", slog.String("sender_id", evt.SenderID), slog.Any("error", sendErr))
		}
		return collaboratorError("search", err)
	}
	if err := d.send(ctx, evt.SenderID, catalog.FormatResults(matches)); err != nil {
		return collaboratorError("send", err)
	}
	return nil
}

func (d *Dispatcher) replyToText(ctx context.Context, evt messenger.Event) error {
	prompt := chat.Clamp(evt.Text, d.cfg.MaxTextChars)
	var answer string
	err := d.observe("generate", func() error {
		if d.generator == nil {
			return errors.New("text generator not configured")
		}
		var err error
		answer, err = d.generator.Generate(ctx, prompt)
		return err
	})
	if err != nil {
		return collaboratorError("generate", err)
	}
	if err := d.send(ctx, evt.SenderID, answer); err != nil {
		return collaboratorError("send", err)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, recipientID, text string) error {
	return d.observe("send", func() error {
		return d.sender.SendText(ctx, recipientID, text)
	})
}

func (d *Dispatcher) observe(collaborator string, fn func() error) error {
	start := time.Now()
	err := fn()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CollaboratorDuration.WithLabelValues(collaborator, outcome).Observe(time.Since(start).Seconds())
	return err
}

func (d *Dispatcher) fail(ctx context.Context, evt messenger.Event, err error) {
	stage := ""
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}
	kind := Classify(evt)
	d.logger.Error("dispatch failed",
		slog.String("kind", kind),
		slog.String("stage", stage),
		slog.String("sender_id", evt.SenderID),
		slog.String("message_id", evt.MessageID),
		slog.Any("error", err),
	)
	if d.dead == nil {
		return
	}
	rec := deadletter.NewRecord(evt.SenderID, kind, stage, err)
	rec.PageID = evt.PageID
	rec.MessageID = evt.MessageID
	if kind == KindImage {
		rec.ImageURL = evt.Images[0].URL
	} else {
		rec.Text = chat.Clamp(evt.Text, d.cfg.MaxTextChars)
	}
	d.dead.Send(ctx, rec)
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCollaborator, e.stage, e.err)
}

func (e *stageError) Unwrap() []error {
	return []error{ErrCollaborator, e.err}
}

func collaboratorError(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}
