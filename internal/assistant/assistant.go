// Package assistant wraps the LLM completion call with prompt assembly,
// bounded retry, and output post-processing. Generation failure never
// aborts a conversation turn; the caller always gets usable text.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"admissions-agent/internal/domain"
)

const (
	historyWindow  = 5
	maxResponseLen = 2000

	defaultChatTimeout = 20 * time.Second
	retryBaseDelay     = 2 * time.Second
	retryMaxDelay      = 5 * time.Second
	maxAttempts        = 2
)

// FallbackText is returned when generation times out or fails after the
// retry is exhausted.
const FallbackText = "Lo siento, ocurrió un error al procesar tu mensaje. Por favor, intenta nuevamente."

// ClarificationText replaces empty or whitespace-only completions.
const ClarificationText = "¿Podrías darme más detalles sobre tu consulta?"

// ChatCaller is the underlying completion call.
type ChatCaller interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// Client synthesizes assistant replies from stored context, conversation
// history, and the current message.
type Client struct {
	llm         ChatCaller
	model       string
	chatTimeout time.Duration
	sleep       func(time.Duration)
}

type Option func(*Client)

// WithChatTimeout overrides the per-call completion bound.
func WithChatTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.chatTimeout = d
	}
}

func withSleep(fn func(time.Duration)) Option {
	return func(c *Client) {
		c.sleep = fn
	}
}

// New creates a Client for the given completion backend and model.
func New(llm ChatCaller, model string, opts ...Option) (*Client, error) {
	if llm == nil {
		return nil, errors.New("assistant: chat caller must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("assistant: model must not be empty")
	}
	c := &Client{
		llm:         llm,
		model:       model,
		chatTimeout: defaultChatTimeout,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate produces the assistant reply. On timeout or unrecoverable
// failure it returns FallbackText rather than an error.
func (c *Client) Generate(ctx context.Context, systemContext string, history []string, message string) string {
	messages := buildPromptMessages(systemContext, history, message)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(backoffDelay(attempt))
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, c.chatTimeout)
		raw, err := c.llm.Chat(callCtx, c.model, messages)
		cancel()
		if err == nil {
			return postprocess(raw)
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			break
		}
	}

	slog.Error("assistant generation failed", "err", lastErr)
	return FallbackText
}

// buildPromptMessages assembles one instruction turn carrying the context,
// the most recent history entries as prior turns, and the current message.
func buildPromptMessages(systemContext string, history []string, message string) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: systemContext},
	}
	start := len(history) - historyWindow
	if start < 0 {
		start = 0
	}
	for _, entry := range history[start:] {
		messages = append(messages, domain.ChatMessage{Role: "user", Content: entry})
	}
	return append(messages, domain.ChatMessage{Role: "user", Content: message})
}

// backoffDelay returns the exponential delay before the given attempt,
// capped at retryMaxDelay.
func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay << (attempt - 1)
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

// postprocess normalizes a raw completion: blank output becomes a
// clarification request, and oversized output is truncated with an
// ellipsis marker.
func postprocess(raw string) string {
	out := strings.TrimSpace(raw)
	if out == "" {
		return ClarificationText
	}
	if runes := []rune(out); len(runes) > maxResponseLen {
		return string(runes[:maxResponseLen-3]) + "..."
	}
	return out
}
