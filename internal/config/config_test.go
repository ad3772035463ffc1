package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.Equal(t, "fableforge", cfg.ServiceName)
	assert.Equal(t, CacheTypeMemory, cfg.Cache.Type)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL.Duration())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 3, cfg.Session.CloneThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Session.CompletionRetention.Duration())

	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
httpPort: 9000
logLevel: debug
cache:
  type: memory
  defaultTTL: 30m
retry:
  maxAttempts: 5
  initialBackoff: 500ms
session:
  cloneThreshold: 7
providers:
  stripe:
    baseURL: https://api.stripe.example
    apiKey: sk-test
    priority: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Minute, cfg.Cache.DefaultTTL.Duration())
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff.Duration())
	assert.Equal(t, 7, cfg.Session.CloneThreshold)

	// Untouched fields keep their defaults.
	assert.Equal(t, 9090, cfg.MetricsPort)

	assert.True(t, cfg.Providers.Stripe.Enabled())
	assert.False(t, cfg.Providers.Paddle.Enabled())
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, `
httpPort: 9000
session:
  cloneThreshold: 7
`)

	t.Setenv("FABLEFORGE_HTTP_PORT", "9005")
	t.Setenv("FABLEFORGE_SESSION_CLONE_THRESHOLD", "2")
	t.Setenv("FABLEFORGE_CACHE_DEFAULT_TTL", "45m")
	t.Setenv("FABLEFORGE_STRIPE_API_KEY", "sk-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9005, cfg.HTTPPort)
	assert.Equal(t, 2, cfg.Session.CloneThreshold)
	assert.Equal(t, 45*time.Minute, cfg.Cache.DefaultTTL.Duration())
	assert.Equal(t, "sk-env", cfg.Providers.Stripe.APIKey)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "httpPort: [not a port")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "bad http port",
			mutate:  func(c *Config) { c.HTTPPort = 0 },
			wantErr: "http port",
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *Config) { c.MetricsPort = 70000 },
			wantErr: "metrics port",
		},
		{
			name:    "redis without url",
			mutate:  func(c *Config) { c.Cache.Type = CacheTypeRedis },
			wantErr: "redis URL",
		},
		{
			name: "redis with url",
			mutate: func(c *Config) {
				c.Cache.Type = CacheTypeRedis
				c.Cache.RedisURL = "redis://localhost:6379"
			},
		},
		{
			name:    "unknown cache type",
			mutate:  func(c *Config) { c.Cache.Type = "bolt" },
			wantErr: "cache type",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: "max attempts",
		},
		{
			name:    "zero clone threshold",
			mutate:  func(c *Config) { c.Session.CloneThreshold = 0 },
			wantErr: "clone threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProviderConfig_Enabled(t *testing.T) {
	t.Parallel()

	assert.False(t, ProviderConfig{BaseURL: "https://x"}.Enabled())
	assert.True(t, ProviderConfig{APIKey: "k"}.Enabled())
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	t.Parallel()

	type holder struct {
		Timeout Duration `yaml:"timeout"`
	}

	var h holder
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 1h30m\n"), &h))
	assert.Equal(t, 90*time.Minute, h.Timeout.Duration())

	out, err := yaml.Marshal(holder{Timeout: Duration(45 * time.Second)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "45s")

	require.NoError(t, yaml.Unmarshal([]byte(`timeout: ""`), &h))
	assert.Zero(t, h.Timeout.Duration())

	assert.Error(t, yaml.Unmarshal([]byte("timeout: soon"), &h))
}

func TestDuration_UnmarshalText(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("2m")))
	assert.Equal(t, 2*time.Minute, d.Duration())

	require.NoError(t, d.UnmarshalText(nil))
	assert.Zero(t, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("later")))
}
