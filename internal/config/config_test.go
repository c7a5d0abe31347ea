package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadServerDefaults(t *testing.T) {
	clearEnv(t, "PORT", "API_KEY_ENV", "UPSTREAM_BASE_URL", "CORS_ALLOWED_ORIGINS", "MAX_REQUEST_BODY_BYTES", "RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_BURST", "LOG_LEVEL", "LOG_FORMAT")

	cfg, err := LoadServer()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "https://api.openai.com/v1", cfg.UpstreamBaseURL)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(50<<20), cfg.MaxRequestBodyBytes)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Zero(t, cfg.RateLimitPerMinute)
	assert.Equal(t, 20, cfg.RateLimitBurst)
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("UPSTREAM_BASE_URL", "http://127.0.0.1:9999/v1")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MAX_REQUEST_BODY_BYTES", "not-a-number")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadServer()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(DefaultMaxRequestBodyBytes), cfg.MaxRequestBodyBytes)
}

func TestLoadServerRejectsBadValues(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", "not a url")
	_, err := LoadServer()
	require.Error(t, err)

	t.Setenv("UPSTREAM_BASE_URL", "https://api.openai.com/v1")
	t.Setenv("LOG_FORMAT", "xml")
	_, err = LoadServer()
	require.Error(t, err)

	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "60")
	t.Setenv("RATE_LIMIT_BURST", "0")
	_, err = LoadServer()
	require.ErrorContains(t, err, "RATE_LIMIT_BURST")

	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Zero(t, cfg.RateLimitPerMinute)
}

func TestServerAPIKeyReadsEnvEachCall(t *testing.T) {
	t.Setenv("TEST_RELAY_KEY", "one")
	cfg := &ServerConfig{APIKeyEnv: "TEST_RELAY_KEY"}
	assert.Equal(t, "one", cfg.APIKey())

	t.Setenv("TEST_RELAY_KEY", "two")
	assert.Equal(t, "two", cfg.APIKey())
}

func TestLoadClientFileThenEnv(t *testing.T) {
	clearEnv(t, "CHAT_PROXY_URL", "CHAT_DB_PATH", "CHAT_MODEL", "CHAT_MODELS", "CHAT_IMAGE_MODELS", "CHAT_VIEW_ADDR", "LOG_LEVEL", "LOG_FORMAT")

	path := filepath.Join(t.TempDir(), "chat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
proxy_url = "http://relay.internal:3000"
model = "gpt-4.1"
image_models = ["gpt-4.1"]

[log]
level = "debug"
`), 0o600))
	t.Setenv("CHAT_CONFIG_FILE", path)
	t.Setenv("CHAT_MODEL", "custom-model")

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.Equal(t, "http://relay.internal:3000", cfg.ProxyURL)
	assert.Equal(t, "custom-model", cfg.Model)
	assert.Contains(t, cfg.Models, "custom-model")
	assert.Equal(t, []string{"gpt-4.1"}, cfg.ImageModels)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "./data/chat.db", cfg.DBPath)
}

func TestLoadClientMissingFile(t *testing.T) {
	t.Setenv("CHAT_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.toml"))
	_, err := LoadClient()
	require.Error(t, err)
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
