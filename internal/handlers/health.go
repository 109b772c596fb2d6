package handlers

import (
	"log/slog"
	"net/http"
)

// HealthHandler answers liveness probes. The gateway holds no connections or
// state worth inspecting, so a reachable process is a healthy one.
type HealthHandler struct {
	logger *slog.Logger
}

func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Error("Failed to write health response", "error", err)
	}
}
