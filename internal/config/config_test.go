package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Defaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(filepath.Join(dir, "config.toml")))

	cfg := Load()
	assert.Equal(t, 3, cfg.Loader.MaxConcurrent)
	assert.Equal(t, 50*time.Millisecond, cfg.Loader.DispatchDelay)
	assert.Equal(t, 3, cfg.Loader.DefaultPriority)
	assert.Equal(t, float64(200), cfg.Viewport.RootMargin)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "sqlite", cfg.History.Driver)
	assert.Equal(t, filepath.Join(dir, "history.db"), cfg.History.DSN)
	assert.Equal(t, dir, GetConfigDir())
}

func TestInit_ReadsUserConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[loader]
max_concurrent = 5
dispatch_delay_ms = 0

[viewport]
width = 390
height = 844

[cache]
backend = "Redis"

[fetch]
proxy_url = "https://img.example.com/proxy"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	require.NoError(t, Init(path))

	cfg := Load()
	assert.Equal(t, 5, cfg.Loader.MaxConcurrent)
	assert.Equal(t, time.Duration(0), cfg.Loader.DispatchDelay)
	assert.Equal(t, float64(390), cfg.Viewport.Width)
	assert.Equal(t, float64(844), cfg.Viewport.Height)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "https://img.example.com/proxy", cfg.Fetch.ProxyURL)
	// untouched keys keep their defaults
	assert.Equal(t, "localhost", cfg.Redis.Host)
}

func TestInit_EnvOverrides(t *testing.T) {
	t.Setenv("LAZYLOAD_LOADER_MAX_CONCURRENT", "7")
	t.Setenv("LAZYLOAD_HISTORY_DRIVER", "none")

	require.NoError(t, Init(filepath.Join(t.TempDir(), "config.toml")))

	cfg := Load()
	assert.Equal(t, 7, cfg.Loader.MaxConcurrent)
	assert.Equal(t, "none", cfg.History.Driver)
}

func TestInit_MalformedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[loader\nmax_concurrent = "), 0600))

	assert.Error(t, Init(path))
}

func TestSet_OverridesForProcess(t *testing.T) {
	require.NoError(t, Init(filepath.Join(t.TempDir(), "config.toml")))

	Set("output.format", "json")
	assert.Equal(t, "json", GetString("output.format"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs/x.log"), expandPath("~/logs/x.log"))
	assert.Equal(t, "/var/log/x.log", expandPath("/var/log/x.log"))
	assert.Equal(t, "", expandPath(""))
}
