// Package config loads the hub configuration from an optional YAML file
// with environment-variable overrides. Configuration is read once at
// process start; there is no hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration.
type Config struct {
	// Proxy is the token proxy endpoint. The API key is only ever taken
	// from the environment so it never lands in a config file.
	Proxy ProxyConfig `yaml:"proxy"`

	// Listen is the address of the hub HTTP surface.
	Listen string `yaml:"listen"`

	// MetricsListen is the address of the Prometheus/health server.
	MetricsListen string `yaml:"metrics_listen"`

	// AllowedOrgs gates the HTTP surface; empty disables the gate.
	AllowedOrgs []string `yaml:"allowed_orgs"`

	// MaxAttempts is the call attempt ceiling.
	MaxAttempts int `yaml:"max_attempts"`

	// RequestTimeout bounds one inference call attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RouterURL overrides the chat router endpoint (tests, self-hosted).
	RouterURL string `yaml:"router_url"`

	// ImageURL overrides the image endpoint.
	ImageURL string `yaml:"image_url"`

	// DefaultChatModel is used when a chat request names no model.
	DefaultChatModel string `yaml:"default_chat_model"`

	// DefaultImageModel is used when an image request names no model.
	DefaultImageModel string `yaml:"default_image_model"`

	Session SessionConfig `yaml:"session"`
}

// ProxyConfig is the token proxy endpoint configuration.
type ProxyConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"`
}

// SessionConfig selects and tunes the conversation history store.
type SessionConfig struct {
	Backend       string        `yaml:"backend"` // "memory" or "redis"
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"-"`
	RedisDB       int           `yaml:"redis_db"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Listen:         ":8080",
		MetricsListen:  ":9091",
		MaxAttempts:    3,
		RequestTimeout: 120 * time.Second,
		Session: SessionConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
	}
}

// Load reads the config file at path (skipped when path is empty or the
// file does not exist), applies environment overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file; env can carry everything.
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PROXY_URL"); v != "" {
		c.Proxy.BaseURL = v
	}
	c.Proxy.APIKey = os.Getenv("PROXY_KEY")

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsListen = v
	}
	if v := os.Getenv("ALLOWED_ORGS"); v != "" {
		c.AllowedOrgs = splitList(v)
	}
	if v := os.Getenv("MAX_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = i
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := os.Getenv("ROUTER_URL"); v != "" {
		c.RouterURL = v
	}
	if v := os.Getenv("IMAGE_URL"); v != "" {
		c.ImageURL = v
	}
	if v := os.Getenv("DEFAULT_CHAT_MODEL"); v != "" {
		c.DefaultChatModel = v
	}
	if v := os.Getenv("DEFAULT_IMAGE_MODEL"); v != "" {
		c.DefaultImageModel = v
	}
	if v := os.Getenv("SESSION_BACKEND"); v != "" {
		c.Session.Backend = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Session.TTL = d
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Session.RedisAddr = v
	}
	c.Session.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.Session.RedisDB = i
		}
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Proxy.BaseURL == "" {
		return fmt.Errorf("config: proxy.base_url (or PROXY_URL) is required")
	}
	if c.Proxy.APIKey == "" {
		return fmt.Errorf("config: PROXY_KEY is required")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("config: max_attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be positive")
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("config: session.redis_addr (or REDIS_ADDR) is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Session.Backend)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
