package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/multiqa/multiqa-gateway/internal/keystore"
	"github.com/multiqa/multiqa-gateway/internal/providers"
	"github.com/multiqa/multiqa-gateway/internal/stream"
)

// KeyPrefix is the aggregation API's key format; anything else is rejected
// before it gets stored.
const KeyPrefix = "sk-or-v1-"

// KeyHandler manages stored provider credentials. Keys are never returned in
// full, only masked.
type KeyHandler struct {
	registry *providers.Registry
	keys     *keystore.Store
	logger   *slog.Logger
}

func NewKeyHandler(registry *providers.Registry, keys *keystore.Store, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{
		registry: registry,
		keys:     keys,
		logger:   logger,
	}
}

func (h *KeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPost:
		h.handleSet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		stream.WriteError(w, h.logger, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *KeyHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.resolveProvider(w, r.URL.Query().Get("provider"))
	if !ok {
		return
	}

	stored := h.keys.Get(cfg.Name)

	effective := stored
	if effective == "" {
		effective = cfg.DefaultKey
	}

	h.writeJSON(w, map[string]any{
		"has_key":    stored != "",
		"masked_key": MaskKey(effective),
	})
}

func (h *KeyHandler) handleSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		Key      string `json:"key"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		stream.WriteErrorf(w, h.logger, http.StatusBadRequest, "invalid request body: %v", err)

		return
	}

	cfg, ok := h.resolveProvider(w, req.Provider)
	if !ok {
		return
	}

	key := strings.TrimSpace(req.Key)
	if key == "" {
		stream.WriteError(w, h.logger, http.StatusBadRequest, "API key must not be empty")

		return
	}

	if !strings.HasPrefix(key, KeyPrefix) {
		stream.WriteError(w, h.logger, http.StatusBadRequest, "invalid API key format")

		return
	}

	if err := h.keys.Set(cfg.Name, key); err != nil {
		h.logger.Error("Failed to persist API key", "provider", cfg.Name, "error", err)
		stream.WriteError(w, h.logger, http.StatusInternalServerError, "failed to save API key")

		return
	}

	h.writeJSON(w, map[string]any{
		"status":  "ok",
		"message": "API key saved",
	})
}

func (h *KeyHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.resolveProvider(w, r.URL.Query().Get("provider"))
	if !ok {
		return
	}

	if err := h.keys.Delete(cfg.Name); err != nil {
		h.logger.Error("Failed to delete API key", "provider", cfg.Name, "error", err)
		stream.WriteError(w, h.logger, http.StatusInternalServerError, "failed to delete API key")

		return
	}

	h.writeJSON(w, map[string]any{
		"status":  "ok",
		"message": "stored API key removed",
	})
}

func (h *KeyHandler) resolveProvider(w http.ResponseWriter, name string) (providers.Config, bool) {
	if name == "" {
		stream.WriteError(w, h.logger, http.StatusBadRequest, "provider is required")

		return providers.Config{}, false
	}

	cfg, err := h.registry.Resolve(name)
	if err != nil {
		stream.WriteError(w, h.logger, http.StatusNotFound, err.Error())

		return providers.Config{}, false
	}

	return cfg, true
}

func (h *KeyHandler) writeJSON(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to write key response", "error", err)
	}
}

// MaskKey shows the first 8 and last 4 characters of longer keys, and hides
// short (or absent) keys entirely.
func MaskKey(key string) string {
	if len(key) > 12 {
		return key[:8] + "****" + key[len(key)-4:]
	}

	return "****"
}
