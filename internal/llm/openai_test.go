package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCompletions serves the subset of the chat completions API the provider uses
func fakeCompletions(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
			return
		}

		if !body.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],"usage":{"total_tokens":7}}`, "  "+reply+"\n")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, word := range strings.SplitAfter(reply, " ") {
			fmt.Fprintf(w, "data: {\"id\":\"x\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", word)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestProvider(t *testing.T, url string) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(Options{
		APIKey:  "test-key",
		BaseURL: url + "/v1/",
		Model:   "test-model",
	}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestNewOpenAIProvider(t *testing.T) {
	_, err := NewOpenAIProvider(Options{}, zap.NewNop())
	assert.Error(t, err)

	p, err := NewOpenAIProvider(Options{APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.Model())
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv := fakeCompletions(t, "Section 138 covers cheque bounce.", http.StatusOK)
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	reply, err := p.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are LegalSathi."},
		{Role: RoleUser, Content: "What is section 138?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Section 138 covers cheque bounce.", reply)
}

func TestOpenAIProvider_CompleteError(t *testing.T) {
	srv := fakeCompletions(t, "", http.StatusTooManyRequests)
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	assert.Error(t, err)
}

func TestOpenAIProvider_Stream(t *testing.T) {
	srv := fakeCompletions(t, "Draft follows below", http.StatusOK)
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	var deltas []string
	err := p.Stream(context.Background(), []Message{{Role: RoleUser, Content: "draft"}}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Draft ", "follows ", "below"}, deltas)
}

func TestOpenAIProvider_StreamCallbackError(t *testing.T) {
	srv := fakeCompletions(t, "one two three", http.StatusOK)
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	stop := fmt.Errorf("client went away")
	calls := 0
	err := p.Stream(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestMockProvider(t *testing.T) {
	var m MockProvider
	msgs := []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hello there"}}

	reply, err := m.Complete(context.Background(), msgs)
	require.NoError(t, err)
	assert.Contains(t, reply, "hello there")

	var b strings.Builder
	require.NoError(t, m.Stream(context.Background(), msgs, func(d string) error {
		b.WriteString(d)
		return nil
	}))
	assert.Equal(t, reply, b.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Stream(ctx, msgs, func(string) error { return nil }), context.Canceled)
}
