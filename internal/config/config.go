// Package config - config.go loads and validates the gateway YAML config.
//
// DESIGN: One YAML file describes the whole gateway. Environment variable
// references (${VAR} and ${VAR:-default}) are expanded in the raw bytes
// before parsing so secrets stay out of the file. Every section falls back
// to the defaults in defaults.go; a missing file yields a fully defaulted
// config with no providers.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/windowchat/stream-gateway/internal/monitoring"
	"github.com/windowchat/stream-gateway/internal/ratelimit"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig               `yaml:"server"`
	RateLimit ratelimit.Config           `yaml:"rate_limit"`
	Context   ContextConfig              `yaml:"context"`
	Retrieval RetrievalConfig            `yaml:"retrieval"`
	Providers map[string]ProviderConfig  `yaml:"providers"`
	Telemetry monitoring.TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig describes the listen socket.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_seconds"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ShutdownGrace returns the graceful shutdown window.
func (s ServerConfig) ShutdownGrace() time.Duration {
	if s.ShutdownTimeout <= 0 {
		return DefaultShutdownTimeout
	}
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// ContextConfig bounds the assembled prompt.
type ContextConfig struct {
	MaxTokens int    `yaml:"max_tokens"`
	Encoding  string `yaml:"encoding"`
}

// RetrievalConfig controls the vector index.
type RetrievalConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TopK       int    `yaml:"top_k"`
	SQLitePath string `yaml:"sqlite_path"` // empty means in-memory only
}

// ProviderConfig describes one upstream model provider.
type ProviderConfig struct {
	Kind           string `yaml:"kind"` // openai (OpenAI-compatible) or gemini
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the provider call timeout.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultProviderTimeout
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults replaces ${VAR} references with the environment
// value, falling back to the ${VAR:-default} default when the variable is
// unset or empty.
func ExpandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := envPattern.FindStringSubmatch(m)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[3]
	})
}

// Load reads, expands, and parses the config file at path. A missing file
// is not an error; it yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's flag
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	expanded := ExpandEnvWithDefaults(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every section defaulted and no providers.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		RateLimit: ratelimit.Config{
			WindowSeconds: ratelimit.DefaultWindowSeconds,
			MaxRequests:   ratelimit.DefaultMaxRequests,
		},
		Context: ContextConfig{
			MaxTokens: DefaultMaxContextTokens,
			Encoding:  DefaultEncoding,
		},
		Retrieval: RetrievalConfig{
			TopK: DefaultRetrievalTopK,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = ratelimit.DefaultWindowSeconds
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = ratelimit.DefaultMaxRequests
	}
	if c.Context.MaxTokens <= 0 {
		c.Context.MaxTokens = DefaultMaxContextTokens
	}
	if c.Context.Encoding == "" {
		c.Context.Encoding = DefaultEncoding
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = DefaultRetrievalTopK
	}
	for name, p := range c.Providers {
		if p.Kind == "" {
			p.Kind = "openai"
		}
		if p.MaxRetries <= 0 {
			p.MaxRetries = DefaultProviderRetries
		}
		c.Providers[name] = p
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	for name, p := range c.Providers {
		switch p.Kind {
		case "openai", "gemini":
		default:
			return fmt.Errorf("provider %q: unknown kind %q (want openai or gemini)", name, p.Kind)
		}
	}
	return nil
}
