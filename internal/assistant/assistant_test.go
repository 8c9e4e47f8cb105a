package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"admissions-agent/internal/domain"
)

type chatResult struct {
	answer string
	err    error
}

type mockChat struct {
	results  []chatResult
	calls    int
	captured [][]domain.ChatMessage
}

func (m *mockChat) Chat(_ context.Context, _ string, messages []domain.ChatMessage) (string, error) {
	m.captured = append(m.captured, messages)
	idx := m.calls
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	m.calls++
	return m.results[idx].answer, m.results[idx].err
}

func newTestClient(t *testing.T, llm ChatCaller, slept *[]time.Duration) *Client {
	t.Helper()
	c, err := New(llm, "deepseek-chat", withSleep(func(d time.Duration) {
		if slept != nil {
			*slept = append(*slept, d)
		}
	}))
	require.NoError(t, err)
	return c
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "m")
	require.Error(t, err)
	_, err = New(&mockChat{}, "  ")
	require.Error(t, err)
}

func TestGenerate_HappyPath(t *testing.T) {
	llm := &mockChat{results: []chatResult{{answer: "Claro, con gusto."}}}
	c := newTestClient(t, llm, nil)

	out := c.Generate(context.Background(), "ctx", nil, "hola")
	require.Equal(t, "Claro, con gusto.", out)
	require.Equal(t, 1, llm.calls)
}

func TestGenerate_PromptShape(t *testing.T) {
	llm := &mockChat{results: []chatResult{{answer: "ok"}}}
	c := newTestClient(t, llm, nil)

	history := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}
	c.Generate(context.Background(), "instituto context", history, "pregunta actual")

	require.Len(t, llm.captured, 1)
	msgs := llm.captured[0]
	// One system turn, the last 5 history entries, the current message.
	require.Len(t, msgs, 7)
	require.Equal(t, "system", msgs[0].Role)
	require.Equal(t, "instituto context", msgs[0].Content)
	require.Equal(t, "m3", msgs[1].Content)
	require.Equal(t, "m7", msgs[5].Content)
	require.Equal(t, "pregunta actual", msgs[6].Content)
	for _, m := range msgs[1:] {
		require.Equal(t, "user", m.Role)
	}
}

func TestGenerate_EmptyOutputReplaced(t *testing.T) {
	for _, raw := range []string{"", "   \n\t  "} {
		llm := &mockChat{results: []chatResult{{answer: raw}}}
		c := newTestClient(t, llm, nil)
		require.Equal(t, ClarificationText, c.Generate(context.Background(), "ctx", nil, "hola"))
	}
}

func TestGenerate_TruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("a", 5000)
	llm := &mockChat{results: []chatResult{{answer: long}}}
	c := newTestClient(t, llm, nil)

	out := c.Generate(context.Background(), "ctx", nil, "hola")
	require.Len(t, out, 2000)
	require.True(t, strings.HasSuffix(out, "..."))
	require.Equal(t, strings.Repeat("a", 1997), out[:1997])
}

func TestGenerate_OutputAtLimitNotTruncated(t *testing.T) {
	exact := strings.Repeat("b", 2000)
	llm := &mockChat{results: []chatResult{{answer: exact}}}
	c := newTestClient(t, llm, nil)
	require.Equal(t, exact, c.Generate(context.Background(), "ctx", nil, "hola"))
}

func TestGenerate_RetriesOnceWithBackoff(t *testing.T) {
	llm := &mockChat{results: []chatResult{
		{err: errors.New("upstream hiccup")},
		{answer: "recovered"},
	}}
	var slept []time.Duration
	c := newTestClient(t, llm, &slept)

	out := c.Generate(context.Background(), "ctx", nil, "hola")
	require.Equal(t, "recovered", out)
	require.Equal(t, 2, llm.calls)
	require.Equal(t, []time.Duration{2 * time.Second}, slept)
}

func TestGenerate_FallbackAfterRetryExhausted(t *testing.T) {
	llm := &mockChat{results: []chatResult{{err: errors.New("still down")}}}
	var slept []time.Duration
	c := newTestClient(t, llm, &slept)

	out := c.Generate(context.Background(), "ctx", nil, "hola")
	require.Equal(t, FallbackText, out)
	require.Equal(t, 2, llm.calls)
	require.Len(t, slept, 1)
}

func TestGenerate_FallbackOnExpiredContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := &mockChat{results: []chatResult{{answer: "never used"}}}
	c := newTestClient(t, llm, nil)

	out := c.Generate(ctx, "ctx", nil, "hola")
	require.Equal(t, FallbackText, out)
	require.Zero(t, llm.calls)
}

func TestBackoffDelay_Capped(t *testing.T) {
	require.Equal(t, 2*time.Second, backoffDelay(1))
	require.Equal(t, 4*time.Second, backoffDelay(2))
	require.Equal(t, 5*time.Second, backoffDelay(3))
}
