package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const genericErrorMessage = "upstream request failed"

// NormalizeError extracts a human-readable message from an upstream error
// body. Checks the usual envelope shapes in order, falling back to the raw
// body text and finally to a generic string.
func NormalizeError(raw []byte) string {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return genericErrorMessage
	}

	if !gjson.Valid(body) {
		return body
	}

	if msg := gjson.Get(body, "error.message"); msg.Type == gjson.String && msg.Str != "" {
		return msg.Str
	}

	if code := gjson.Get(body, "error.code"); code.Exists() && code.Type != gjson.Null {
		return code.String()
	}

	if msg := gjson.Get(body, "message"); msg.Type == gjson.String && msg.Str != "" {
		return msg.Str
	}

	return body
}

// WriteError sends the structured JSON error body used before streaming has
// begun. Once the stream is committed the status cannot change, so errors
// discovered later terminate the stream instead.
func WriteError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]any{
		"error": map[string]any{
			"message": message,
		},
	}

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write error response", "error", err, "status", status)
	}
}

// WriteErrorf is WriteError with a formatted message.
func WriteErrorf(w http.ResponseWriter, logger *slog.Logger, status int, format string, args ...any) {
	WriteError(w, logger, status, fmt.Sprintf(format, args...))
}
