package reply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/pagebot/internal/catalog"
	"github.com/memohai/pagebot/internal/deadletter"
	"github.com/memohai/pagebot/internal/messenger"
)

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
	panics  bool
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	if g.panics {
		panic("generator exploded")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

type fakeSearcher struct {
	mu        sync.Mutex
	urls      []string
	limit     int
	threshold float64
	matches   []catalog.Match
	err       error
}

func (s *fakeSearcher) SearchByImage(_ context.Context, imageURL string, limit int, threshold float64) ([]catalog.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, imageURL)
	s.limit, s.threshold = limit, threshold
	return s.matches, s.err
}

type sent struct {
	recipient string
	text      string
}

type fakeSender struct {
	mu       sync.Mutex
	messages []sent
	err      error
	block    chan struct{}
	active   atomic.Int32
	peak     atomic.Int32
}

func (s *fakeSender) SendText(_ context.Context, recipientID, text string) error {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, sent{recipient: recipientID, text: text})
	return s.err
}

func (s *fakeSender) Sent() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.messages...)
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	records []deadletter.Record
}

func (f *fakeDeadLetters) Send(_ context.Context, rec deadletter.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeDeadLetters) Records() []deadletter.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deadletter.Record(nil), f.records...)
}

type harness struct {
	gen    *fakeGenerator
	search *fakeSearcher
	sender *fakeSender
	dead   *fakeDeadLetters
	d      *Dispatcher
}

func newHarness(cfg Config) *harness {
	h := &harness{
		gen:    &fakeGenerator{reply: "Hello!"},
		search: &fakeSearcher{},
		sender: &fakeSender{},
		dead:   &fakeDeadLetters{},
	}
	h.d = NewDispatcher(nil, h.gen, h.search, h.sender, h.dead, cfg)
	return h
}

func (h *harness) dispatchAndWait(t *testing.T, events ...messenger.Event) {
	t.Helper()
	for _, evt := range events {
		h.d.Dispatch(context.Background(), evt)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.d.Wait(ctx))
}

func TestDispatcherTextReply(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.dispatchAndWait(t, messenger.Event{SenderID: "psid-1", MessageID: "m1", Text: "  hi there  "})

	assert.Equal(t, []string{"hi there"}, h.gen.prompts)
	assert.Equal(t, []sent{{recipient: "psid-1", text: "Hello!"}}, h.sender.Sent())
	assert.Empty(t, h.dead.Records())
}

func TestDispatcherClampsPrompt(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.dispatchAndWait(t, messenger.Event{SenderID: "psid-1", Text: strings.Repeat("a", 1000)})

	require.Len(t, h.gen.prompts, 1)
	assert.Equal(t, 800, utf8.RuneCountInString(h.gen.prompts[0]))
	assert.Equal(t, strings.Repeat("a", 800), h.gen.prompts[0])
}

func TestDispatcherImageTakesPrecedence(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.search.matches = []catalog.Match{{Product: catalog.Product{Name: "Trail Runner", Stock: 2}, Similarity: 0.9}}
	h.dispatchAndWait(t, messenger.Event{
		SenderID: "psid-1",
		Text:     "do you have this?",
		Images:   []messenger.Attachment{{URL: "https://cdn.example/1.jpg"}, {URL: "https://cdn.example/2.jpg"}},
	})

	assert.Empty(t, h.gen.prompts)
	assert.Equal(t, []string{"https://cdn.example/1.jpg"}, h.search.urls)
	assert.Equal(t, 5, h.search.limit)
	assert.InDelta(t, 0.5, h.search.threshold, 1e-9)
	msgs := h.sender.Sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, catalog.FormatResults(h.search.matches), msgs[0].text)
}

func TestDispatcherNoMatches(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.dispatchAndWait(t, messenger.Event{SenderID: "psid-1", Images: []messenger.Attachment{{URL: "https://cdn.example/1.jpg"}}})
	assert.Equal(t, []sent{{recipient: "psid-1", text: catalog.NoMatchMessage}}, h.sender.Sent())
}

func TestDispatcherSearchFailureSendsApology(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.search.err = errors.New("vertex unavailable")
	h.dispatchAndWait(t, messenger.Event{SenderID: "psid-1", MessageID: "m1", Images: []messenger.Attachment{{URL: "https://cdn.example/1.jpg"}}})

	assert.Equal(t, []sent{{recipient: "psid-1", text: SearchApology}}, h.sender.Sent())
	records := h.dead.Records()
	require.Len(t, records, 1)
	assert.Equal(t, KindImage, records[0].Kind)
	assert.Equal(t, "search", records[0].Stage)
	assert.Equal(t, "m1", records[0].MessageID)
	assert.Equal(t, "https://cdn.example/1.jpg", records[0].ImageURL)
	assert.Contains(t, records[0].Error, "vertex unavailable")
}

func TestDispatcherWithoutCatalogApologizes(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	d := NewDispatcher(nil, &fakeGenerator{}, nil, sender, nil, Config{})
	err := d.Process(context.Background(), messenger.Event{SenderID: "psid-1", Images: []messenger.Attachment{{URL: "https://x/y.jpg"}}})
	assert.ErrorIs(t, err, catalog.ErrNotConfigured)
	assert.ErrorIs(t, err, ErrCollaborator)
	assert.Equal(t, []sent{{recipient: "psid-1", text: SearchApology}}, sender.Sent())
}

func TestDispatcherGenerateFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	boom := errors.New("openai 500")
	h.gen.err = boom

	err := h.d.Process(context.Background(), messenger.Event{SenderID: "psid-1", Text: "hi"})
	assert.ErrorIs(t, err, ErrCollaborator)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.sender.Sent())

	records := h.dead.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "generate", records[0].Stage)
	assert.Equal(t, "hi", records[0].Text)
}

func TestDispatcherSendFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.sender.err = errors.New("status 400")
	h.dispatchAndWait(t, messenger.Event{SenderID: "psid-1", Text: "hi"})

	records := h.dead.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "send", records[0].Stage)
	assert.Equal(t, KindText, records[0].Kind)
}

func TestDispatcherIgnoresEmptyEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.dispatchAndWait(t, messenger.Event{SenderID: "psid-1", Text: "   "})
	assert.Empty(t, h.gen.prompts)
	assert.Empty(t, h.sender.Sent())
}

func TestDispatcherRecoversPanics(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.gen.panics = true
	h.dispatchAndWait(t, messenger.Event{SenderID: "psid-1", Text: "hi"})
	assert.Empty(t, h.sender.Sent())
}

func TestDispatcherBoundsInFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{MaxInFlight: 2})
	h.sender.block = make(chan struct{})
	for i := 0; i < 6; i++ {
		h.d.Dispatch(context.Background(), messenger.Event{SenderID: "psid-1", Text: "hi"})
	}

	require.Eventually(t, func() bool { return h.sender.active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(h.sender.block)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.d.Wait(ctx))
	assert.Len(t, h.sender.Sent(), 6)
	assert.LessOrEqual(t, h.sender.peak.Load(), int32(2))
}

func TestDispatcherWaitHonoursContext(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.sender.block = make(chan struct{})
	defer close(h.sender.block)
	h.d.Dispatch(context.Background(), messenger.Event{SenderID: "psid-1", Text: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.d.Wait(ctx), context.DeadlineExceeded)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindImage, Classify(messenger.Event{Text: "x", Images: []messenger.Attachment{{URL: "u"}}}))
	assert.Equal(t, KindText, Classify(messenger.Event{Text: "x"}))
	assert.Equal(t, KindNone, Classify(messenger.Event{Text: " "}))
}
