package payload

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/multiqa/multiqa-gateway/internal/providers"
)

// Defaults applied when the caller omits a field.
const (
	DefaultTemperature = 0.6
	DefaultMaxTokens   = 4096
)

var (
	ErrNotAnObject      = errors.New("request body must be a JSON object")
	ErrMessagesRequired = errors.New("messages required")
)

// Normalize turns a raw chat-completion body into a fully defaulted upstream
// payload. The caller's fields are copied as-is; stream is forced on so the
// downstream transformer has a single code path; model, temperature and
// max_tokens fall back to provider defaults; a system message is prepended
// only when the caller did not already lead with one.
func Normalize(cfg providers.Config, body []byte) (map[string]any, error) {
	var normalized map[string]any
	if err := json.Unmarshal(body, &normalized); err != nil || normalized == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnObject, err)
	}

	messages, ok := normalized["messages"].([]any)
	if !ok || len(messages) == 0 {
		return nil, ErrMessagesRequired
	}

	normalized["stream"] = true

	if _, ok := normalized["model"]; !ok {
		normalized["model"] = cfg.DefaultModel
	}

	if _, ok := normalized["temperature"]; !ok {
		normalized["temperature"] = DefaultTemperature
	}

	if _, ok := normalized["max_tokens"]; !ok {
		normalized["max_tokens"] = DefaultMaxTokens
	}

	if !leadsWithSystem(messages) {
		systemMessage := map[string]any{
			"role":    "system",
			"content": cfg.DefaultSystem,
		}
		normalized["messages"] = append([]any{systemMessage}, messages...)
	}

	return normalized, nil
}

func leadsWithSystem(messages []any) bool {
	first, ok := messages[0].(map[string]any)
	if !ok {
		return false
	}

	role, _ := first["role"].(string)

	return role == "system"
}
