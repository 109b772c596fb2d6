package providers

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider is returned when a request names a provider that is not
// in the registry. The HTTP boundary maps it to a 404.
var ErrUnknownProvider = errors.New("unknown provider")

// Config holds the defaults for one named upstream model family. All
// providers are routed through the same aggregation endpoint; only the
// defaults differ.
type Config struct {
	Name          string
	DefaultModel  string
	DefaultSystem string

	// UpstreamURL overrides the gateway-wide aggregation endpoint for this
	// provider. Empty means the shared endpoint.
	UpstreamURL string

	// DefaultKey is an optional fallback credential, normally empty. It is
	// only consulted when neither the request nor the key store supply one.
	DefaultKey string
}

const (
	defaultSystemEN = "You are a helpful assistant."
	defaultSystemZH = "你是一个有用的AI助手。"
)

// builtin is the static provider table, loaded once at startup. Adding a
// provider means adding a row here.
var builtin = []Config{
	{Name: "openai", DefaultModel: "openai/gpt-5.2", DefaultSystem: defaultSystemEN},
	{Name: "anthropic", DefaultModel: "anthropic/claude-opus-4.5", DefaultSystem: defaultSystemEN},
	{Name: "xai", DefaultModel: "x-ai/grok-4", DefaultSystem: defaultSystemEN},
	{Name: "gemini", DefaultModel: "google/gemini-3-pro-preview", DefaultSystem: defaultSystemEN},
	{Name: "zhipu", DefaultModel: "z-ai/glm-5", DefaultSystem: defaultSystemZH},
	{Name: "moonshot", DefaultModel: "moonshotai/kimi-k2.5", DefaultSystem: defaultSystemZH},
	{Name: "minimax", DefaultModel: "minimax/minimax-m2.5", DefaultSystem: defaultSystemZH},
	{Name: "qwen", DefaultModel: "qwen/qwen3-max-thinking", DefaultSystem: defaultSystemZH},
	{Name: "deepseek", DefaultModel: "deepseek/deepseek-v3.2", DefaultSystem: defaultSystemZH},
}

// Registry maps provider names to their configuration. It is populated once
// during startup and never mutated afterwards.
type Registry struct {
	providers map[string]Config
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Config),
	}
}

// Register adds a provider to the registry. Names are stored lowercased.
func (r *Registry) Register(cfg Config) {
	r.providers[strings.ToLower(cfg.Name)] = cfg
}

// Resolve returns the configuration for the named provider. Lookup is
// case-insensitive.
func (r *Registry) Resolve(name string) (Config, error) {
	cfg, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	return cfg, nil
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}

	return names
}

// Initialize registers all built-in providers.
func (r *Registry) Initialize() {
	for _, cfg := range builtin {
		r.Register(cfg)
	}
}
