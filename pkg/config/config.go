// Package config provides configuration loading and defaults for pnwkit
// clients and the pnwkit command.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of a client. Empty endpoint URLs select the
// library defaults.
type Config struct {
	APIKey    string `yaml:"api_key" validate:"required"`
	BotKey    string `yaml:"bot_key"`
	BotAPIKey string `yaml:"bot_api_key"`

	URL          string `yaml:"url" validate:"omitempty,url"`
	SocketURL    string `yaml:"socket_url" validate:"omitempty,url"`
	SubscribeURL string `yaml:"subscribe_url" validate:"omitempty,url"`
	AuthURL      string `yaml:"auth_url" validate:"omitempty,url"`

	PersistedQueries bool `yaml:"persisted_queries"`

	// HTTPTimeout bounds every HTTP request; zero disables the timeout.
	HTTPTimeout time.Duration `yaml:"http_timeout" validate:"gte=0"`

	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Environment variables read by ApplyEnvOverrides.
const (
	EnvAPIKey           = "PNWKIT_API_KEY"
	EnvBotKey           = "PNWKIT_BOT_KEY"
	EnvBotAPIKey        = "PNWKIT_BOT_API_KEY"
	EnvURL              = "PNWKIT_URL"
	EnvSocketURL        = "PNWKIT_SOCKET_URL"
	EnvSubscribeURL     = "PNWKIT_SUBSCRIBE_URL"
	EnvAuthURL          = "PNWKIT_AUTH_URL"
	EnvPersistedQueries = "PNWKIT_PERSISTED_QUERIES"
	EnvHTTPTimeout      = "PNWKIT_HTTP_TIMEOUT"
	EnvLogLevel         = "PNWKIT_LOG_LEVEL"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig returns a new Config populated with default values.
// Each call returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: 30 * time.Second,
		LogLevel:    "info",
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Load reads the file at path, if path is not empty, applies the
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides updates cfg in place with the PNWKIT_* environment
// variables. Empty variables are ignored.
func ApplyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		EnvAPIKey:       &cfg.APIKey,
		EnvBotKey:       &cfg.BotKey,
		EnvBotAPIKey:    &cfg.BotAPIKey,
		EnvURL:          &cfg.URL,
		EnvSocketURL:    &cfg.SocketURL,
		EnvSubscribeURL: &cfg.SubscribeURL,
		EnvAuthURL:      &cfg.AuthURL,
		EnvLogLevel:     &cfg.LogLevel,
	}
	for env, dst := range strs {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPersistedQueries); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPersistedQueries, err)
		}
		cfg.PersistedQueries = b
	}
	if v := os.Getenv(EnvHTTPTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHTTPTimeout, err)
		}
		cfg.HTTPTimeout = d
	}
	return nil
}

// Validate checks the configuration, reporting every invalid field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SlogLevel returns the log level as a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
