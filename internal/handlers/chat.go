package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pkoukk/tiktoken-go"

	"github.com/multiqa/multiqa-gateway/internal/config"
	"github.com/multiqa/multiqa-gateway/internal/keystore"
	"github.com/multiqa/multiqa-gateway/internal/payload"
	"github.com/multiqa/multiqa-gateway/internal/providers"
	"github.com/multiqa/multiqa-gateway/internal/stream"
	"github.com/multiqa/multiqa-gateway/internal/upstream"
)

// ChatHandler runs the whole request pipeline: resolve provider, normalize
// payload, resolve credential, call upstream with retries, re-stream.
type ChatHandler struct {
	config      *config.Manager
	registry    *providers.Registry
	keys        *keystore.Store
	client      *upstream.Client
	transformer *stream.Transformer
	logger      *slog.Logger
}

func NewChatHandler(
	cfgMgr *config.Manager,
	registry *providers.Registry,
	keys *keystore.Store,
	client *upstream.Client,
	logger *slog.Logger,
) *ChatHandler {
	return &ChatHandler{
		config:      cfgMgr,
		registry:    registry,
		keys:        keys,
		client:      client,
		transformer: stream.NewTransformer(logger),
		logger:      logger,
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		stream.WriteError(w, h.logger, http.StatusMethodNotAllowed, "method not allowed")

		return
	}

	providerCfg, err := h.registry.Resolve(r.PathValue("provider"))
	if err != nil {
		stream.WriteError(w, h.logger, http.StatusNotFound, err.Error())

		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		stream.WriteErrorf(w, h.logger, http.StatusBadRequest, "failed to read request body: %v", err)

		return
	}

	normalized, err := payload.Normalize(providerCfg, body)
	if err != nil {
		stream.WriteError(w, h.logger, http.StatusBadRequest, err.Error())

		return
	}

	apiKey, err := h.keys.ResolveKey(providerCfg, r.Header.Get("X-Api-Key"))
	if err != nil {
		stream.WriteError(w, h.logger, http.StatusUnauthorized, err.Error())

		return
	}

	cfg := h.config.Get()
	headers := map[string]string{
		"Authorization": "Bearer " + apiKey,
		"HTTP-Referer":  cfg.Referer,
		"X-Title":       cfg.Title,
	}

	model, _ := normalized["model"].(string)

	h.logger.Info("Proxying chat request",
		"provider", providerCfg.Name,
		"model", model,
		"input_tokens", h.countInputTokens(string(body)),
	)

	resp, err := h.client.Send(r.Context(), providerCfg.UpstreamURL, headers, normalized)
	if err != nil {
		var transportErr *upstream.TransportError
		if errors.As(err, &transportErr) {
			stream.WriteError(w, h.logger, http.StatusGatewayTimeout, stream.NormalizeError([]byte(transportErr.Error())))

			return
		}

		stream.WriteError(w, h.logger, http.StatusBadGateway, err.Error())

		return
	}

	// The transformer owns resp from here and closes it on every exit path.
	h.transformer.Pipe(w, resp)
}

func (h *ChatHandler) countInputTokens(text string) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		h.logger.Error("Failed to get tiktoken encoding", "error", err)

		return 0
	}

	return len(tke.Encode(text, nil, nil))
}
