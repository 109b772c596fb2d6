package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/multiqa/multiqa-gateway/internal/keystore"
	"github.com/multiqa/multiqa-gateway/internal/providers"
)

func newKeyHandler(t *testing.T) (*KeyHandler, *keystore.Store) {
	t.Helper()

	registry := providers.NewRegistry()
	registry.Initialize()

	keys := keystore.New(t.TempDir())
	require.NoError(t, keys.Load())

	return NewKeyHandler(registry, keys, testLogger()), keys
}

func TestKeyHandler_GetWithoutStoredKey(t *testing.T) {
	handler, _ := newKeyHandler(t)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/key?provider=openai", nil))

	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.False(t, gjson.Get(body, "has_key").Bool())
	assert.Equal(t, "****", gjson.Get(body, "masked_key").Str)
}

func TestKeyHandler_SetThenGetMasked(t *testing.T) {
	handler, keys := newKeyHandler(t)

	setBody := `{"provider":"openai","key":"sk-or-v1-abcdefghijklmnop"}`
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/key", strings.NewReader(setBody)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sk-or-v1-abcdefghijklmnop", keys.Get("openai"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/key?provider=openai", nil))

	body := w.Body.String()
	assert.True(t, gjson.Get(body, "has_key").Bool())
	assert.Equal(t, "sk-or-v1****mnop", gjson.Get(body, "masked_key").Str)
	assert.NotContains(t, body, "abcdefgh", "full key must never be returned")
}

func TestKeyHandler_SetRejections(t *testing.T) {
	handler, _ := newKeyHandler(t)

	testCases := []struct {
		name   string
		body   string
		status int
	}{
		{
			name:   "empty key",
			body:   `{"provider":"openai","key":"  "}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "wrong key format",
			body:   `{"provider":"openai","key":"sk-classic-123456"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown provider",
			body:   `{"provider":"nonexistent","key":"sk-or-v1-valid"}`,
			status: http.StatusNotFound,
		},
		{
			name:   "missing provider",
			body:   `{"key":"sk-or-v1-valid"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid json",
			body:   "{broken",
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/key", strings.NewReader(tc.body)))
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestKeyHandler_Delete(t *testing.T) {
	handler, keys := newKeyHandler(t)
	require.NoError(t, keys.Set("openai", "sk-or-v1-abcdefghijklmnop"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/key?provider=openai", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, keys.Get("openai"))

	// Deleting again is idempotent.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/key?provider=openai", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestKeyHandler_MethodNotAllowed(t *testing.T) {
	handler, _ := newKeyHandler(t)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/key", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
