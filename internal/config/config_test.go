package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowchat/stream-gateway/internal/ratelimit"
)

func TestParseFullConfig(t *testing.T) {
	t.Setenv("TEST_DEEPSEEK_KEY", "sk-secret")

	cfg, err := Parse([]byte(`
server:
  host: 0.0.0.0
  port: 9090
  allowed_origins:
    - https://chat.example.com
rate_limit:
  window_seconds: 30
  max_requests: 10
context:
  max_tokens: 4096
retrieval:
  enabled: true
  top_k: 3
  sqlite_path: /tmp/embeddings.db
providers:
  deepseek:
    kind: openai
    api_key: ${TEST_DEEPSEEK_KEY}
    model: deepseek-chat
  gemini:
    kind: gemini
    api_key: ${MISSING_KEY:-fallback-key}
    timeout_seconds: 60
telemetry:
  enabled: true
  log_path: /tmp/events.jsonl
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30, cfg.RateLimit.WindowSeconds)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 4096, cfg.Context.MaxTokens)
	assert.True(t, cfg.Retrieval.Enabled)
	assert.Equal(t, 3, cfg.Retrieval.TopK)

	ds := cfg.Providers["deepseek"]
	assert.Equal(t, "sk-secret", ds.APIKey)
	assert.Equal(t, DefaultProviderRetries, ds.MaxRetries)
	assert.Equal(t, DefaultProviderTimeout, ds.Timeout())

	gm := cfg.Providers["gemini"]
	assert.Equal(t, "fallback-key", gm.APIKey)
	assert.Equal(t, int64(60), int64(gm.Timeout().Seconds()))

	assert.True(t, cfg.Telemetry.Enabled)
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, ratelimit.DefaultWindowSeconds, cfg.RateLimit.WindowSeconds)
	assert.Equal(t, ratelimit.DefaultMaxRequests, cfg.RateLimit.MaxRequests)
	assert.Equal(t, DefaultMaxContextTokens, cfg.Context.MaxTokens)
	assert.Equal(t, DefaultEncoding, cfg.Context.Encoding)
	assert.False(t, cfg.Retrieval.Enabled)
	assert.Empty(t, cfg.Providers)
}

func TestLoadMissingFileIsDefault(t *testing.T) {
	cfg, err := Load("/nonexistent/gateway.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

func TestParseRejectsUnknownProviderKind(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  weird:
    kind: carrier-pigeon
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestParseRejectsBadPort(t *testing.T) {
	_, err := Parse([]byte("server:\n  port: 70000\n"))
	require.Error(t, err)
}

func TestExpandEnvWithDefaults(t *testing.T) {
	t.Setenv("GATEWAY_TEST_VAL", "live")

	assert.Equal(t, "live", ExpandEnvWithDefaults("${GATEWAY_TEST_VAL}"))
	assert.Equal(t, "live", ExpandEnvWithDefaults("${GATEWAY_TEST_VAL:-dead}"))
	assert.Equal(t, "dead", ExpandEnvWithDefaults("${GATEWAY_TEST_UNSET:-dead}"))
	assert.Equal(t, "", ExpandEnvWithDefaults("${GATEWAY_TEST_UNSET}"))
	assert.Equal(t, "plain text", ExpandEnvWithDefaults("plain text"))
}
