package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvOnly(t *testing.T) {
	t.Setenv("PROXY_URL", "https://proxy.example.com")
	t.Setenv("PROXY_KEY", "secret-key")
	t.Setenv("DEFAULT_CHAT_MODEL", "org/chat-model")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://proxy.example.com", cfg.Proxy.BaseURL)
	assert.Equal(t, "secret-key", cfg.Proxy.APIKey)
	assert.Equal(t, "org/chat-model", cfg.DefaultChatModel)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, ":8080", cfg.Listen)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	yaml := `
proxy:
  base_url: https://from-file.example.com
listen: ":9000"
max_attempts: 5
allowed_orgs:
  - acme
  - globex
session:
  backend: redis
  redis_addr: localhost:6379
  ttl: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("PROXY_KEY", "secret-key")
	t.Setenv("PROXY_URL", "https://from-env.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env wins over file.
	assert.Equal(t, "https://from-env.example.com", cfg.Proxy.BaseURL)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, []string{"acme", "globex"}, cfg.AllowedOrgs)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	t.Setenv("PROXY_URL", "https://proxy.example.com")
	t.Setenv("PROXY_KEY", "secret-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.example.com", cfg.Proxy.BaseURL)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Proxy.BaseURL = "https://proxy.example.com"
		cfg.Proxy.APIKey = "k"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing proxy url", func(c *Config) { c.Proxy.BaseURL = "" }, "base_url"},
		{"missing api key", func(c *Config) { c.Proxy.APIKey = "" }, "PROXY_KEY"},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, "max_attempts"},
		{"bad backend", func(c *Config) { c.Session.Backend = "dynamo" }, "session backend"},
		{"redis without addr", func(c *Config) { c.Session.Backend = "redis" }, "redis_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvListSplitting(t *testing.T) {
	t.Setenv("PROXY_URL", "https://proxy.example.com")
	t.Setenv("PROXY_KEY", "k")
	t.Setenv("ALLOWED_ORGS", " acme, globex ,,initech ")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex", "initech"}, cfg.AllowedOrgs)
}
