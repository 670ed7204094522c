package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/aps-client/pkg/logging"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	assert.Equal(t, "https://developer.api.autodesk.com", v.GetString("base_url"))
	assert.Equal(t, "us-east", v.GetString("region"))
	assert.Equal(t, 1000, v.GetInt("max_pages"))
	assert.Equal(t, "2s", v.GetString("poll.workitem_interval"))
	assert.Equal(t, "10s", v.GetString("poll.translation_interval"))
	assert.Equal(t, "info", v.GetString("logging.level"))
	assert.Empty(t, v.GetString("redis.addr"))
	assert.Equal(t, 3, v.GetInt("retry.max_attempts"))
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "https://developer.api.autodesk.com", cfg.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Poll.WorkItemInterval)
	assert.Equal(t, 10*time.Second, cfg.Poll.TranslationInterval)
	assert.Equal(t, 30*time.Minute, cfg.Poll.Timeout)
	assert.Equal(t, float64(10), cfg.RateLimit.RequestsPerSecond)
	assert.Empty(t, cfg.Token)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apsctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: http://localhost:9000
region: eu-west
redis:
  addr: redis:6379
  cache_scope: tenant-a
poll:
  workitem_interval: 500ms
logging:
  level: debug
`), 0o600))

	t.Setenv("APS_TOKEN", "env-token")
	t.Setenv("APS_REGION", "us-west")
	t.Setenv("APS_RATE_LIMIT_BURST", "20")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)
	assert.Equal(t, "us-west", cfg.Region, "environment overrides the file")
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "tenant-a", cfg.Redis.CacheScope)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.WorkItemInterval)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidBaseURL(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("APS_BASE_URL", "ftp://example.com")

	_, err := Load(viper.New(), "")
	assert.ErrorContains(t, err, "base_url")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty region", func(c *Config) { c.Region = "" }, true},
		{"negative pages", func(c *Config) { c.MaxPages = -1 }, true},
		{"negative burst", func(c *Config) { c.RateLimit.Burst = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{BaseURL: "https://developer.api.autodesk.com", Region: "us-east"}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAPSConfig(t *testing.T) {
	cfg := Config{
		BaseURL:   "http://localhost:9000",
		UserAgent: "apsctl/test",
		Region:    "eu-west",
		MaxPages:  5,
	}
	cfg.Redis.CacheScope = "tenant-a"
	cfg.RateLimit.RequestsPerSecond = 2
	cfg.RateLimit.Burst = 1
	cfg.Poll.WorkItemInterval = time.Second
	cfg.Poll.Timeout = time.Minute

	ac := cfg.APSConfig()

	assert.Equal(t, "http://localhost:9000", ac.BaseURL)
	assert.Equal(t, "eu-west", ac.Region)
	assert.Equal(t, 5, ac.MaxPages)
	assert.Equal(t, "tenant-a", ac.CacheScope)
	assert.Equal(t, float64(2), ac.RateLimit.RequestsPerSecond)
	assert.Equal(t, time.Second, ac.WorkItemPoll.Interval)
	assert.Equal(t, time.Minute, ac.TranslationPoll.Timeout)
	assert.Nil(t, ac.ReadRetry, "retry disabled below two attempts")

	cfg.Retry.MaxAttempts = 4
	cfg.Retry.InitialBackoff = 10 * time.Millisecond
	ac = cfg.APSConfig()
	require.NotNil(t, ac.ReadRetry)
	assert.Equal(t, 4, ac.ReadRetry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, ac.ReadRetry.InitialBackoff)
	assert.Equal(t, 30*time.Second, ac.ReadRetry.MaxBackoff)
}

func TestLoggingConfig(t *testing.T) {
	cfg := Config{}
	cfg.Logging.Level = "warn"
	cfg.Logging.Pretty = true

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelWarn, lc.Level)
	assert.True(t, lc.Pretty)
}
