package chat

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// SystemPrompt frames every reply.
	SystemPrompt = "You are a friendly, concise AI assistant chatting on Facebook Messenger. Answer helpfully and briefly."
	// FallbackReply is sent when the model returns no content.
	FallbackReply = "I'm here and ready to help! Could you rephrase your question?"

	DefaultMaxChars = 800
	ellipsis        = "…"
)

// ResponderConfig holds the completion parameters for replies.
type ResponderConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
	MaxChars    int
	Timeout     time.Duration
}

// Responder turns one user message into one short reply.
type Responder struct {
	provider Provider
	cfg      ResponderConfig
}

func NewResponder(provider Provider, cfg ResponderConfig) *Responder {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Responder{provider: provider, cfg: cfg}
}

// Generate requests a reply for prompt. Input and output are both clamped to
// MaxChars runes; a truncated output ends with an ellipsis.
func (r *Responder) Generate(ctx context.Context, prompt string) (string, error) {
	input := Clamp(prompt, r.cfg.MaxChars)
	if input == "" {
		return "", errors.New("prompt is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req := Request{
		Model: r.cfg.Model,
		Messages: []Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: input},
		},
	}
	if r.cfg.Temperature > 0 {
		temp := r.cfg.Temperature
		req.Temperature = &temp
	}
	if r.cfg.MaxTokens > 0 {
		maxTokens := r.cfg.MaxTokens
		req.MaxTokens = &maxTokens
	}

	result, err := r.provider.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(result.Message.Content)
	if content == "" {
		content = FallbackReply
	}
	return ClampWithEllipsis(content, r.cfg.MaxChars), nil
}

// Clamp trims s and keeps at most max runes.
func Clamp(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// ClampWithEllipsis is Clamp with an ellipsis appended when s was cut.
func ClampWithEllipsis(s string, max int) string {
	clamped := Clamp(s, max)
	if clamped != strings.TrimSpace(s) {
		return clamped + ellipsis
	}
	return clamped
}
