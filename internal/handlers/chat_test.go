package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/multiqa/multiqa-gateway/internal/config"
	"github.com/multiqa/multiqa-gateway/internal/keystore"
	"github.com/multiqa/multiqa-gateway/internal/providers"
	"github.com/multiqa/multiqa-gateway/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type chatFixture struct {
	handler  *ChatHandler
	keys     *keystore.Store
	upstream *httptest.Server
	calls    *atomic.Int32
}

// newChatFixture wires the full pipeline against an httptest upstream double.
func newChatFixture(t *testing.T, upstreamHandler http.HandlerFunc) *chatFixture {
	t.Helper()

	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		upstreamHandler(w, r)
	}))
	t.Cleanup(srv.Close)

	registry := providers.NewRegistry()
	registry.Initialize()

	keys := keystore.New(t.TempDir())
	require.NoError(t, keys.Load())

	client := upstream.New(upstream.Config{
		URL:            srv.URL,
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		RateLimitDelay: time.Millisecond,
	})

	cfgMgr := config.NewManager(t.TempDir())

	return &chatFixture{
		handler:  NewChatHandler(cfgMgr, registry, keys, client, testLogger()),
		keys:     keys,
		upstream: srv,
		calls:    calls,
	}
}

func chatRequest(provider, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/"+provider+"/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("provider", provider)

	return req
}

const validBody = `{"messages":[{"role":"user","content":"hi"}]}`

func TestChatHandler_UnknownProvider(t *testing.T) {
	f := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {})

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, chatRequest("nonexistent", validBody))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown provider")
	assert.Equal(t, int32(0), f.calls.Load(), "no upstream call for unknown providers")
}

func TestChatHandler_InvalidBody(t *testing.T) {
	f := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	require.NoError(t, f.keys.Set("openai", "sk-or-v1-test"))

	testCases := []struct {
		name string
		body string
	}{
		{name: "not json", body: "nope"},
		{name: "missing messages", body: `{"model":"x"}`},
		{name: "empty messages", body: `{"messages":[]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, chatRequest("openai", tc.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, int32(0), f.calls.Load(), "validation failures must not reach upstream")
		})
	}
}

func TestChatHandler_MissingCredential(t *testing.T) {
	f := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {})

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, chatRequest("openai", validBody))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "no API key available")
	assert.Equal(t, int32(0), f.calls.Load(), "no unauthenticated upstream request may be sent")
}

func TestChatHandler_StreamsNormalizedResponse(t *testing.T) {
	var upstreamBody atomic.Value

	f := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		upstreamBody.Store(string(body))

		assert.Equal(t, "Bearer sk-or-v1-stored", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("HTTP-Referer"))
		assert.NotEmpty(t, r.Header.Get("X-Title"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"B\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})
	require.NoError(t, f.keys.Set("openai", "sk-or-v1-stored"))

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, chatRequest("openai", validBody))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	require.Len(t, frames, 3)
	assert.Contains(t, frames[0], `"A"`)
	assert.Contains(t, frames[1], `"B"`)
	assert.Equal(t, "data: [DONE]", frames[2])

	sent, ok := upstreamBody.Load().(string)
	require.True(t, ok)
	assert.True(t, gjson.Get(sent, "stream").Bool(), "stream must be forced on")
	assert.Equal(t, "openai/gpt-5.2", gjson.Get(sent, "model").Str, "provider default model applied")
	assert.Equal(t, "system", gjson.Get(sent, "messages.0.role").Str, "system prompt injected")
}

func TestChatHandler_HeaderKeyOverridesStoredKey(t *testing.T) {
	f := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer header-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})
	require.NoError(t, f.keys.Set("openai", "sk-or-v1-stored"))

	req := chatRequest("openai", validBody)
	req.Header.Set("X-Api-Key", "header-key")

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestChatHandler_ProviderUpstreamURLOverride(t *testing.T) {
	var overrideCalls atomic.Int32

	override := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		overrideCalls.Add(1)
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	t.Cleanup(override.Close)

	f := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	require.NoError(t, f.keys.Set("custom", "sk-or-v1-test"))

	f.handler.registry.Register(providers.Config{
		Name:          "custom",
		DefaultModel:  "custom/model",
		DefaultSystem: "You are a helpful assistant.",
		UpstreamURL:   override.URL,
	})

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, chatRequest("custom", validBody))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), overrideCalls.Load(), "request must go to the provider's own endpoint")
	assert.Equal(t, int32(0), f.calls.Load(), "the shared endpoint must not be hit")
}

func TestChatHandler_UpstreamErrorStatusForwarded(t *testing.T) {
	f := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	})
	require.NoError(t, f.keys.Set("openai", "sk-or-v1-bad"))

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, chatRequest("openai", validBody))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":{"message":"invalid key"}}`, w.Body.String())
	assert.Equal(t, int32(1), f.calls.Load(), "401 is not a retryable status")
}

func TestChatHandler_TransportErrorBecomesGatewayTimeout(t *testing.T) {
	f := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	require.NoError(t, f.keys.Set("openai", "sk-or-v1-test"))

	// Close the upstream so every attempt fails at the connection level.
	f.upstream.Close()

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, chatRequest("openai", validBody))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), "error")
	assert.Equal(t, int32(0), f.calls.Load())
}
