package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	reply string
	err   error
	last  Request
}

func (p *fakeProvider) Chat(ctx context.Context, req Request) (Result, error) {
	p.last = req
	if _, ok := ctx.Deadline(); !ok {
		return Result{}, errors.New("expected a deadline")
	}
	if p.err != nil {
		return Result{}, p.err
	}
	return Result{Message: Message{Role: "assistant", Content: p.reply}}, nil
}

func newTestResponder(p Provider) *Responder {
	return NewResponder(p, ResponderConfig{Model: "gpt-4o-mini", Temperature: 0.3, MaxTokens: 300})
}

func TestResponderBuildsRequest(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{reply: "  Sure thing.  "}
	out, err := newTestResponder(p).Generate(context.Background(), "  what time do you open?  ")
	require.NoError(t, err)
	assert.Equal(t, "Sure thing.", out)

	require.Len(t, p.last.Messages, 2)
	assert.Equal(t, Message{Role: "system", Content: SystemPrompt}, p.last.Messages[0])
	assert.Equal(t, Message{Role: "user", Content: "what time do you open?"}, p.last.Messages[1])
	assert.Equal(t, "gpt-4o-mini", p.last.Model)
	require.NotNil(t, p.last.MaxTokens)
	assert.Equal(t, 300, *p.last.MaxTokens)
}

func TestResponderClampsInputAndOutput(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{reply: strings.Repeat("é", 1000)}
	out, err := newTestResponder(p).Generate(context.Background(), strings.Repeat("ß", 900))
	require.NoError(t, err)

	assert.Equal(t, 800, utf8.RuneCountInString(p.last.Messages[1].Content))
	assert.Equal(t, 801, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, "…"))
}

func TestResponderFallbackOnEmptyCompletion(t *testing.T) {
	t.Parallel()

	out, err := newTestResponder(&fakeProvider{reply: "   "}).Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, out)
}

func TestResponderPropagatesProviderError(t *testing.T) {
	t.Parallel()

	_, err := newTestResponder(&fakeProvider{err: errors.New("boom")}).Generate(context.Background(), "hello")
	assert.EqualError(t, err, "boom")
}

func TestResponderRejectsEmptyPrompt(t *testing.T) {
	t.Parallel()

	_, err := newTestResponder(&fakeProvider{}).Generate(context.Background(), "  \n ")
	assert.Error(t, err)
}

func TestClamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", Clamp("  abc ", 5))
	assert.Equal(t, "ab", Clamp("abc", 2))
	assert.Equal(t, "ab…", ClampWithEllipsis("abc", 2))
	assert.Equal(t, "abc", ClampWithEllipsis("abc", 3))
}
