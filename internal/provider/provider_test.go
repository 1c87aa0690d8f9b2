package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/vizloop/internal/secrets"
)

func newTestClient(t *testing.T, name, baseURL string, scrubber *secrets.Scrubber) *Client {
	t.Helper()
	c, err := New(Config{Name: name, APIKey: "test-key", BaseURL: baseURL, Model: testModel(name)}, scrubber, zaptest.NewLogger(t))
	require.NoError(t, err)
	c.retry.InitialBackoff = time.Millisecond
	c.retry.MaxBackoff = 5 * time.Millisecond
	return c
}

func testModel(name string) string {
	if name == OpenAI {
		return "gpt-4o"
	}
	return "claude-sonnet-4-5-20250929"
}

func anthropicReply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
		"usage":   map[string]int{"input_tokens": 1000, "output_tokens": 200},
	})
}

func openAIReply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"content": text}}},
		"usage":   map[string]int{"prompt_tokens": 500, "completion_tokens": 100},
	})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		wantModel string
	}{
		{"anthropic defaults", Config{Name: Anthropic, APIKey: "k"}, false, defaultAnthropicModel},
		{"empty name is anthropic", Config{APIKey: "k"}, false, defaultAnthropicModel},
		{"openai defaults", Config{Name: OpenAI, APIKey: "k"}, false, defaultOpenAIModel},
		{"custom model", Config{Name: OpenAI, APIKey: "k", Model: "gpt-4.1-mini"}, false, "gpt-4.1-mini"},
		{"missing key", Config{Name: Anthropic}, true, ""},
		{"unknown provider", Config{Name: "llama", APIKey: "k"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, nil, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, c.Model())
			assert.True(t, c.SupportsVision())
		})
	}
}

func TestAnthropic_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be brief", req.System)
		require.Len(t, req.Messages, 1)
		require.Len(t, req.Messages[0].Content, 2)
		assert.Equal(t, "image", req.Messages[0].Content[0].Type)
		assert.Equal(t, "image/png", req.Messages[0].Content[0].Source.MediaType)
		assert.Equal(t, "text", req.Messages[0].Content[1].Type)
		assert.Equal(t, "hello", req.Messages[0].Content[1].Text)

		anthropicReply(w, "hi there")
	}))
	defer srv.Close()

	c := newTestClient(t, Anthropic, srv.URL, nil)
	resp, err := c.Complete(context.Background(), Request{
		System: "be brief",
		Prompt: "hello",
		Images: []Image{{MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
	assert.Equal(t, Usage{InputTokens: 1000, OutputTokens: 200}, c.Usage())
	assert.InDelta(t, 0.006, c.Spent(), 1e-9)
}

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Contains(t, string(req.Messages[1].Content), "data:image/png;base64,")

		openAIReply(w, "ok")
	}))
	defer srv.Close()

	c := newTestClient(t, OpenAI, srv.URL, nil)
	resp, err := c.Complete(context.Background(), Request{
		System: "sys",
		Prompt: "hello",
		Images: []Image{{MediaType: "image/png", Data: []byte("png")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 500, c.Usage().InputTokens)
}

func TestComplete_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			anthropicReply(w, "finally")
		}
	}))
	defer srv.Close()

	c := newTestClient(t, Anthropic, srv.URL, nil)
	resp, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "finally", resp.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, Anthropic, srv.URL, nil)
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error (502)")
	assert.Equal(t, int32(defaultMaxRetries+1), calls.Load())
}

func TestComplete_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, Anthropic, srv.URL, nil)
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tokens too large")
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_ScrubsSecrets(t *testing.T) {
	token := "ghp_" + strings.Repeat("z", 36)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotContains(t, string(body), token)
		assert.Contains(t, string(body), secrets.DefaultRedaction)
		anthropicReply(w, "ok")
	}))
	defer srv.Close()

	s, err := secrets.New(secrets.DefaultConfig())
	require.NoError(t, err)
	c := newTestClient(t, Anthropic, srv.URL, s)

	_, err = c.Complete(context.Background(), Request{Prompt: "deploy with " + token})
	require.NoError(t, err)
}

func TestComplete_RejectsImagesWithoutVision(t *testing.T) {
	c, err := New(Config{Name: OpenAI, APIKey: "k", Model: "gpt-3.5-turbo"}, nil, nil)
	require.NoError(t, err)
	assert.False(t, c.SupportsVision())

	_, err = c.Complete(context.Background(), Request{Prompt: "x", Images: []Image{{MediaType: "image/png", Data: []byte("x")}}})
	assert.Error(t, err)
}

func TestComplete_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		anthropicReply(w, "late")
	}))
	defer srv.Close()

	c := newTestClient(t, Anthropic, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLookupPricing(t *testing.T) {
	assert.Equal(t, CostModel{3, 15}, LookupPricing(Anthropic, "claude-sonnet-4-5-20250929"))
	assert.Equal(t, CostModel{0.15, 0.6}, LookupPricing(OpenAI, "gpt-4o-mini-2024-07-18"))
	assert.Equal(t, CostModel{2.5, 10}, LookupPricing(OpenAI, "gpt-4o"))
	assert.Equal(t, fallbackPricing, LookupPricing(OpenAI, "mystery-model"))

	assert.InDelta(t, 0.045, CostModel{3, 15}.EstimateCost(10_000, 1_000), 1e-9)
}
