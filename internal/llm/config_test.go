package llm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv isolates a test from the developer's environment.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
		"RATE_LIMIT_STORE", "KV_REST_API_URL", "KV_REST_API_TOKEN",
		"RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW", "LISTEN_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Empty(t, cfg.Path)
	assert.Empty(t, cfg.Model.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Model.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Name)
	assert.Equal(t, 50, cfg.RateLimit.Max)
	assert.Equal(t, 24*time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, StoreDisabled, cfg.RateLimitMode())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	clearConfigEnv(t)
	path := writeConfigFile(t, `
[model]
api_key = "sk-from-file"
base_url = "http://localhost:11434/v1/"
name = "llama3"

[rate_limit]
store = "memory"
max = 5
window = "1h"

[server]
addr = "127.0.0.1:9000"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "sk-from-file", cfg.Model.APIKey)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Model.BaseURL)
	assert.Equal(t, "llama3", cfg.Model.Name)
	assert.Equal(t, 5, cfg.RateLimit.Max)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, StoreMemory, cfg.RateLimitMode())
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("RATE_LIMIT_MAX", "7")
	t.Setenv("RATE_LIMIT_WINDOW", "30m")
	t.Setenv("LISTEN_ADDR", ":7000")

	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Model.APIKey)
	assert.Equal(t, 7, cfg.RateLimit.Max)
	assert.Equal(t, 30*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "llama3", cfg.Model.Name, "file value survives when env is unset")
}

func TestLoadConfigIgnoresMalformedNumbers(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("RATE_LIMIT_MAX", "lots")
	t.Setenv("RATE_LIMIT_WINDOW", "a day")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.RateLimit.Max)
	assert.Equal(t, 24*time.Hour, cfg.RateLimit.Window)
}

func TestLoadConfigInvalidFile(t *testing.T) {
	clearConfigEnv(t)
	path := writeConfigFile(t, "[model\napi_key = ")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestRateLimitMode(t *testing.T) {
	tests := []struct {
		name  string
		store string
		url   string
		token string
		want  string
	}{
		{name: "nothing configured", want: StoreDisabled},
		{name: "upstash credentials", url: "https://kv.example", token: "t", want: StoreUpstash},
		{name: "url without token", url: "https://kv.example", want: StoreDisabled},
		{name: "explicit memory", store: "memory", want: StoreMemory},
		{name: "explicit memory wins over credentials", store: "Memory", url: "https://kv.example", token: "t", want: StoreMemory},
		{name: "explicitly disabled", store: "off", url: "https://kv.example", token: "t", want: StoreDisabled},
		{name: "upstash without credentials", store: "upstash", want: StoreDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.RateLimit.Store = tt.store
			cfg.RateLimit.URL = tt.url
			cfg.RateLimit.Token = tt.token
			assert.Equal(t, tt.want, cfg.RateLimitMode())
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Store = StoreUpstash
	warnings := cfg.Validate()
	require.Len(t, warnings, 3)
	assert.Contains(t, warnings[0], "OPENAI_API_KEY")
	assert.Contains(t, warnings[1], "KV_REST_API_URL")

	cfg.Model.APIKey = "sk-test"
	cfg.RateLimit.Store = StoreMemory
	assert.Empty(t, cfg.Validate())
}
