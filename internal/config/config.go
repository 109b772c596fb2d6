package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

const (
	DefaultPort           = 8787
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"

	DefaultUpstreamURL = "https://openrouter.ai/api/v1/chat/completions"
	DefaultReferer     = "https://multiqa.example.com"
	DefaultTitle       = "MultiQA Arena"
)

// ProviderOverride adjusts a built-in provider's defaults from the config
// file. Empty fields keep the built-in value.
type ProviderOverride struct {
	Name          string `json:"name"`
	DefaultModel  string `json:"default_model,omitempty"`
	DefaultSystem string `json:"default_system,omitempty"`
	UpstreamURL   string `json:"upstream_url,omitempty"`
	DefaultKey    string `json:"default_key,omitempty"`
}

type Config struct {
	Host        string             `json:"host,omitempty"`
	Port        int                `json:"port,omitempty"`
	UpstreamURL string             `json:"upstream_url,omitempty"`
	Referer     string             `json:"referer,omitempty"`
	Title       string             `json:"title,omitempty"`
	WebDir      string             `json:"web_dir,omitempty"`
	Providers   []ProviderOverride `json:"providers,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}

	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.UpstreamURL == "" {
		c.UpstreamURL = DefaultUpstreamURL
	}

	if c.Referer == "" {
		c.Referer = DefaultReferer
	}

	if c.Title == "" {
		c.Title = DefaultTitle
	}
}

type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

// Load reads the config file and applies defaults. The file is optional: a
// missing file yields a pure-defaults configuration.
func (m *Manager) Load() (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	m.configValue.Store(&cfg)

	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		cfg = &Config{}
		cfg.applyDefaults()
	}

	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
