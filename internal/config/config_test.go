package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_LoadMissingFileUsesDefaults(t *testing.T) {
	mgr := NewManager(t.TempDir())

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultUpstreamURL, cfg.UpstreamURL)
	assert.Equal(t, DefaultReferer, cfg.Referer)
	assert.Equal(t, DefaultTitle, cfg.Title)
}

func TestManager_LoadAppliesPartialDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `{"port": 9999, "providers": [{"name": "openai", "default_model": "openai/custom"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFilename), []byte(content), 0644))

	mgr := NewManager(dir)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, DefaultHost, cfg.Host, "unset fields fall back to defaults")
	assert.Equal(t, DefaultUpstreamURL, cfg.UpstreamURL)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "openai", cfg.Providers[0].Name)
	assert.Equal(t, "openai/custom", cfg.Providers[0].DefaultModel)
}

func TestManager_LoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFilename), []byte("{broken"), 0644))

	mgr := NewManager(dir)

	_, err := mgr.Load()
	require.Error(t, err)
}

func TestManager_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir)

	cfg := &Config{
		Host:        "0.0.0.0",
		Port:        8080,
		UpstreamURL: "http://localhost:9000/v1/chat/completions",
	}
	require.NoError(t, mgr.Save(cfg))
	assert.True(t, mgr.Exists())

	reloaded, err := NewManager(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", reloaded.Host)
	assert.Equal(t, 8080, reloaded.Port)
	assert.Equal(t, "http://localhost:9000/v1/chat/completions", reloaded.UpstreamURL)
}

func TestManager_GetWithoutLoad(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "nonexistent"))

	cfg := mgr.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultPort, cfg.Port)
}
