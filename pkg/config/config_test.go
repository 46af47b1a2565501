package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTempFile creates a temporary file with the given content and returns its path.
func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		EnvAPIKey, EnvBotKey, EnvBotAPIKey, EnvURL, EnvSocketURL,
		EnvSubscribeURL, EnvAuthURL, EnvPersistedQueries, EnvHTTPTimeout, EnvLogLevel,
	} {
		t.Setenv(env, "")
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeTempFile(t, "pnwkit.yaml", `
api_key: secret
bot_key: bot
url: https://example.com/graphql
persisted_queries: true
http_timeout: 5s
log_level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "bot", cfg.BotKey)
	assert.Equal(t, "https://example.com/graphql", cfg.URL)
	assert.True(t, cfg.PersistedQueries)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Empty(t, cfg.SocketURL)
}

func TestLoadConfig_KeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeTempFile(t, "pnwkit.yaml", "api_key: secret\n"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadConfig(writeTempFile(t, "bad.yaml", "api_key: [unclosed\n"))
	assert.ErrorContains(t, err, "failed to unmarshal config")
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvPersistedQueries, "true")
	t.Setenv(EnvHTTPTimeout, "2m")

	cfg := DefaultConfig()
	cfg.APIKey = "from-file"
	cfg.BotKey = "kept"
	require.NoError(t, ApplyEnvOverrides(cfg))

	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, "kept", cfg.BotKey)
	assert.True(t, cfg.PersistedQueries)
	assert.Equal(t, 2*time.Minute, cfg.HTTPTimeout)
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvHTTPTimeout, "soon")
	assert.ErrorContains(t, ApplyEnvOverrides(DefaultConfig()), EnvHTTPTimeout)

	clearEnv(t)
	t.Setenv(EnvPersistedQueries, "maybe")
	assert.ErrorContains(t, ApplyEnvOverrides(DefaultConfig()), EnvPersistedQueries)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing api key", mutate: func(c *Config) { c.APIKey = "" }, wantErr: "APIKey"},
		{name: "bad url", mutate: func(c *Config) { c.URL = "not a url" }, wantErr: "URL"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "LogLevel"},
		{name: "negative timeout", mutate: func(c *Config) { c.HTTPTimeout = -time.Second }, wantErr: "HTTPTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.APIKey = "secret"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "from-env")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIKey)

	clearEnv(t)
	_, err = Load("")
	assert.ErrorContains(t, err, "invalid config")
}
