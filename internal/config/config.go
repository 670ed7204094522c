// Package config loads apsctl settings from an optional apsctl.yaml file and
// APS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/aps-client/pkg/aps"
	"github.com/Sternrassler/aps-client/pkg/client"
	"github.com/Sternrassler/aps-client/pkg/logging"
	"github.com/Sternrassler/aps-client/pkg/poll"
	"github.com/Sternrassler/aps-client/pkg/ratelimit"
)

// EnvPrefix is prepended to every environment key (APS_TOKEN, APS_REDIS_ADDR).
const EnvPrefix = "APS"

// Config is the resolved apsctl configuration.
type Config struct {
	Token     string        `mapstructure:"token"`
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Region    string        `mapstructure:"region"`
	MaxPages  int           `mapstructure:"max_pages"`

	Redis struct {
		Addr       string `mapstructure:"addr"`
		DB         int    `mapstructure:"db"`
		CacheScope string `mapstructure:"cache_scope"`
	} `mapstructure:"redis"`

	RateLimit struct {
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`

	Poll struct {
		WorkItemInterval    time.Duration `mapstructure:"workitem_interval"`
		TranslationInterval time.Duration `mapstructure:"translation_interval"`
		Timeout             time.Duration `mapstructure:"timeout"`
	} `mapstructure:"poll"`

	Retry struct {
		MaxAttempts    int           `mapstructure:"max_attempts"`
		InitialBackoff time.Duration `mapstructure:"initial_backoff"`
		MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	} `mapstructure:"retry"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"logging"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	d := aps.DefaultConfig()
	rl := ratelimit.DefaultConfig()

	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("user_agent", "apsctl/0.1.0")
	v.SetDefault("timeout", "60s")
	v.SetDefault("region", d.Region)
	v.SetDefault("max_pages", d.MaxPages)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_scope", "default")

	v.SetDefault("rate_limit.requests_per_second", rl.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", rl.Burst)

	v.SetDefault("poll.workitem_interval", "2s")
	v.SetDefault("poll.translation_interval", "10s")
	v.SetDefault("poll.timeout", "30m")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", "1s")
	v.SetDefault("retry.max_backoff", "30s")

	v.SetDefault("logging.level", string(logging.LevelInfo))
	v.SetDefault("logging.pretty", false)

	v.SetDefault("metrics.addr", "")

	// Environment lookups only resolve keys viper knows about.
	v.SetDefault("token", "")
}

// Load reads path (or apsctl.yaml from the working directory and
// $HOME/.config/apsctl when path is empty) and overlays APS_* variables.
// A missing default config file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("apsctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/apsctl")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must be http(s): %q", c.BaseURL)
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit.burst must not be negative")
	}
	return nil
}

// APSConfig maps the settings onto the façade configuration. The Redis
// client is left to the caller.
func (c *Config) APSConfig() aps.Config {
	cfg := aps.DefaultConfig()
	cfg.BaseURL = c.BaseURL
	cfg.UserAgent = c.UserAgent
	cfg.Timeout = c.Timeout
	cfg.Region = c.Region
	cfg.MaxPages = c.MaxPages
	cfg.CacheScope = c.Redis.CacheScope
	cfg.RateLimit = ratelimit.Config{
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
		Burst:             c.RateLimit.Burst,
	}
	cfg.WorkItemPoll = poll.Config{Interval: c.Poll.WorkItemInterval, Timeout: c.Poll.Timeout}
	cfg.TranslationPoll = poll.Config{Interval: c.Poll.TranslationInterval, Timeout: c.Poll.Timeout}
	if c.Retry.MaxAttempts > 1 {
		rc := client.DefaultRetryConfig()
		rc.MaxAttempts = c.Retry.MaxAttempts
		if c.Retry.InitialBackoff > 0 {
			rc.InitialBackoff = c.Retry.InitialBackoff
		}
		if c.Retry.MaxBackoff > 0 {
			rc.MaxBackoff = c.Retry.MaxBackoff
		}
		cfg.ReadRetry = &rc
	}
	return cfg
}

// LoggingConfig maps the logging settings.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
