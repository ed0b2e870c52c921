package llm

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"novel-ai-proxy/internal/ratelimit"
	"novel-ai-proxy/pkg/utils"
)

const (
	// DefaultBaseURL is the OpenAI-compatible API root.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the chat model used for every command.
	DefaultModel = "gpt-4o-mini"
	// DefaultAddr is the HTTP listen address.
	DefaultAddr = ":8080"
)

// Rate limit store modes.
const (
	StoreUpstash  = "upstash"
	StoreMemory   = "memory"
	StoreDisabled = "disabled"
)

// Config contains the server configuration.
type Config struct {
	Model     ModelConfig     `toml:"model"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Server    ServerConfig    `toml:"server"`

	// Path is the config file that was read, if any.
	Path string `toml:"-"`
}

// ModelConfig holds settings for the model backend.
type ModelConfig struct {
	// APIKey authenticates against the backend. Requests fail with 400 while it is empty.
	APIKey string `toml:"api_key"`
	// BaseURL is the OpenAI-compatible API root, without the /chat/completions suffix.
	BaseURL string `toml:"base_url"`
	// Name is the chat model identifier.
	Name string `toml:"name"`
}

// RateLimitConfig holds settings for per-client throttling.
type RateLimitConfig struct {
	// Store selects the backing store: "upstash", "memory" or "disabled".
	// Empty means upstash when URL and Token are set, disabled otherwise.
	Store  string        `toml:"store"`
	URL    string        `toml:"url"`
	Token  string        `toml:"token"`
	Max    int           `toml:"max"`
	Window time.Duration `toml:"window"`
}

// ServerConfig holds settings for the HTTP listener.
type ServerConfig struct {
	Addr     string `toml:"addr"`
	LogLevel string `toml:"log_level"`
}

var (
	// config is the process-wide configuration
	config *Config
	// configErr records a failure to load it
	configErr error
	// configOnce ensures the configuration is initialized only once
	configOnce sync.Once
)

// GetConfig returns the process-wide configuration, loading it on first
// call from the default config file and the environment.
func GetConfig() (*Config, error) {
	configOnce.Do(func() {
		config, configErr = LoadConfig("")
	})
	return config, configErr
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			BaseURL: DefaultBaseURL,
			Name:    DefaultModel,
		},
		RateLimit: RateLimitConfig{
			Max:    ratelimit.DefaultLimit,
			Window: ratelimit.DefaultWindow,
		},
		Server: ServerConfig{
			Addr:     DefaultAddr,
			LogLevel: "info",
		},
	}
}

// LoadConfig builds the configuration from defaults, the TOML file at path
// (utils.ConfigPath() when empty) and environment variables, in that order
// of increasing priority.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = utils.ConfigPath()
	}

	cfg := DefaultConfig()
	found, err := utils.ReadTOMLFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if found {
		cfg.Path = path
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	c.Model.APIKey = utils.GetEnvWithDefault("OPENAI_API_KEY", c.Model.APIKey)
	c.Model.BaseURL = utils.GetEnvWithDefault("OPENAI_BASE_URL", c.Model.BaseURL)
	c.Model.Name = utils.GetEnvWithDefault("OPENAI_MODEL", c.Model.Name)

	c.RateLimit.Store = utils.GetEnvWithDefault("RATE_LIMIT_STORE", c.RateLimit.Store)
	c.RateLimit.URL = utils.GetEnvWithDefault("KV_REST_API_URL", c.RateLimit.URL)
	c.RateLimit.Token = utils.GetEnvWithDefault("KV_REST_API_TOKEN", c.RateLimit.Token)
	c.RateLimit.Max = utils.GetEnvInt("RATE_LIMIT_MAX", c.RateLimit.Max)
	c.RateLimit.Window = utils.GetEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.Server.Addr = utils.GetEnvWithDefault("LISTEN_ADDR", c.Server.Addr)
	c.Server.LogLevel = utils.GetEnvWithDefault("LOG_LEVEL", c.Server.LogLevel)
}

// applyDefaults fills zero values a config file may have blanked.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = defaults.Model.BaseURL
	}
	c.Model.BaseURL = strings.TrimRight(c.Model.BaseURL, "/")
	if c.Model.Name == "" {
		c.Model.Name = defaults.Model.Name
	}
	if c.RateLimit.Max <= 0 {
		c.RateLimit.Max = defaults.RateLimit.Max
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = defaults.RateLimit.Window
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = defaults.Server.LogLevel
	}
}

// RateLimitMode resolves which limiter store to use.
func (c *Config) RateLimitMode() string {
	switch strings.ToLower(c.RateLimit.Store) {
	case StoreMemory:
		return StoreMemory
	case StoreDisabled, "off", "none":
		return StoreDisabled
	}
	if c.RateLimit.URL != "" && c.RateLimit.Token != "" {
		return StoreUpstash
	}
	return StoreDisabled
}

// Validate reports configuration problems that do not prevent startup.
func (c *Config) Validate() []string {
	var warnings []string
	if c.Model.APIKey == "" {
		warnings = append(warnings, "OPENAI_API_KEY is not set; every generate request will be rejected with 400")
	}
	if strings.EqualFold(c.RateLimit.Store, StoreUpstash) && c.RateLimitMode() != StoreUpstash {
		warnings = append(warnings, "rate limit store is upstash but KV_REST_API_URL or KV_REST_API_TOKEN is missing; throttling is disabled")
	}
	if c.RateLimitMode() == StoreDisabled {
		warnings = append(warnings, "rate limiting is disabled")
	}
	return warnings
}
