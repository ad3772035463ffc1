// Package config provides configuration management for the invocation core.
// Configuration is assembled exactly once at startup: defaults, then an
// optional YAML file, then environment variables, with the environment taking
// precedence. Constructors elsewhere in the codebase never read the
// environment themselves.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment variables read by Load.
const EnvPrefix = "FABLEFORGE_"

// Config holds all configuration settings for the service.
type Config struct {
	// Server settings
	HTTPPort        int      `env:"HTTP_PORT" yaml:"httpPort"`
	MetricsPort     int      `env:"METRICS_PORT" yaml:"metricsPort"`
	ReadTimeout     Duration `env:"READ_TIMEOUT" yaml:"readTimeout"`
	WriteTimeout    Duration `env:"WRITE_TIMEOUT" yaml:"writeTimeout"`
	ShutdownTimeout Duration `env:"SHUTDOWN_TIMEOUT" yaml:"shutdownTimeout"`

	// Observability
	ServiceName       string  `env:"SERVICE_NAME" yaml:"serviceName"`
	LogLevel          string  `env:"LOG_LEVEL" yaml:"logLevel"`
	LogFormat         string  `env:"LOG_FORMAT" yaml:"logFormat"`
	TracingEnabled    bool    `env:"TRACING_ENABLED" yaml:"tracingEnabled"`
	OTLPEndpoint      string  `env:"OTLP_ENDPOINT" yaml:"otlpEndpoint"`
	TracingSampleRate float64 `env:"TRACING_SAMPLE_RATE" yaml:"tracingSampleRate"`

	Cache     CacheConfig     `envPrefix:"CACHE_" yaml:"cache"`
	Retry     RetryConfig     `envPrefix:"RETRY_" yaml:"retry"`
	Session   SessionConfig   `envPrefix:"SESSION_" yaml:"session"`
	Providers ProvidersConfig `yaml:"providers"`
}

// Cache backend types.
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// CacheConfig holds cache store configuration.
type CacheConfig struct {
	Type       string   `env:"TYPE" yaml:"type"`
	KeyPrefix  string   `env:"KEY_PREFIX" yaml:"keyPrefix"`
	MaxEntries int      `env:"MAX_ENTRIES" yaml:"maxEntries"`
	DefaultTTL Duration `env:"DEFAULT_TTL" yaml:"defaultTTL"`
	RedisURL   string   `env:"REDIS_URL" yaml:"redisURL"`
}

// RetryConfig holds retry executor configuration.
type RetryConfig struct {
	MaxAttempts        int      `env:"MAX_ATTEMPTS" yaml:"maxAttempts"`
	InitialBackoff     Duration `env:"INITIAL_BACKOFF" yaml:"initialBackoff"`
	JitterFactor       float64  `env:"JITTER_FACTOR" yaml:"jitterFactor"`
	SyncDeadline       Duration `env:"SYNC_DEADLINE" yaml:"syncDeadline"`
	BackgroundDeadline Duration `env:"BACKGROUND_DEADLINE" yaml:"backgroundDeadline"`
}

// SessionConfig holds threshold session tracker configuration.
type SessionConfig struct {
	// CloneThreshold is the number of distinct qualifying samples per
	// (user, category) required before a clone job may be triggered.
	CloneThreshold int `env:"CLONE_THRESHOLD" yaml:"cloneThreshold"`

	// CompletionRetention is how long a successful completion record
	// remains readable before being purged.
	CompletionRetention Duration `env:"COMPLETION_RETENTION" yaml:"completionRetention"`
}

// ProviderConfig holds the configuration for a single external provider.
// A provider with an empty APIKey is considered absent and is never
// constructed.
type ProviderConfig struct {
	BaseURL   string  `env:"BASE_URL" yaml:"baseURL"`
	APIKey    string  `env:"API_KEY" yaml:"apiKey"`
	APISecret string  `env:"API_SECRET" yaml:"apiSecret"`
	Priority  int     `env:"PRIORITY" yaml:"priority"`
	RateLimit float64 `env:"RATE_LIMIT" yaml:"rateLimit"`
	Burst     int     `env:"BURST" yaml:"burst"`
}

// Enabled reports whether the provider's required credentials are present.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// ProvidersConfig holds the per-provider credential blocks. Each block maps
// to one well-known external service; absence of credentials silently
// disables that provider.
type ProvidersConfig struct {
	// Payment (authoritative selection)
	Stripe ProviderConfig `envPrefix:"STRIPE_" yaml:"stripe"`
	Paddle ProviderConfig `envPrefix:"PADDLE_" yaml:"paddle"`

	// SMS (best-effort failover)
	Twilio ProviderConfig `envPrefix:"TWILIO_" yaml:"twilio"`
	Vonage ProviderConfig `envPrefix:"VONAGE_" yaml:"vonage"`

	// Voice cloning
	ElevenLabs ProviderConfig `envPrefix:"ELEVENLABS_" yaml:"elevenlabs"`
	PlayHT     ProviderConfig `envPrefix:"PLAYHT_" yaml:"playht"`

	// Video generation
	Runway ProviderConfig `envPrefix:"RUNWAY_" yaml:"runway"`
	Kling  ProviderConfig `envPrefix:"KLING_" yaml:"kling"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		HTTPPort:          8080,
		MetricsPort:       9090,
		ReadTimeout:       Duration(30 * time.Second),
		WriteTimeout:      Duration(30 * time.Second),
		ShutdownTimeout:   Duration(15 * time.Second),
		ServiceName:       "fableforge",
		LogLevel:          "info",
		LogFormat:         "json",
		TracingSampleRate: 1.0,
		Cache: CacheConfig{
			Type:       CacheTypeMemory,
			KeyPrefix:  "fableforge:",
			MaxEntries: 10000,
			DefaultTTL: Duration(time.Hour),
		},
		Retry: RetryConfig{
			MaxAttempts:        3,
			InitialBackoff:     Duration(time.Second),
			JitterFactor:       0.25,
			SyncDeadline:       Duration(60 * time.Second),
			BackgroundDeadline: Duration(10 * time.Minute),
		},
		Session: SessionConfig{
			CloneThreshold:      3,
			CompletionRetention: Duration(10 * time.Minute),
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // config path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port %d", c.MetricsPort)
	}
	switch c.Cache.Type {
	case CacheTypeMemory:
	case CacheTypeRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache type %q requires a redis URL", c.Cache.Type)
		}
	default:
		return fmt.Errorf("unknown cache type %q", c.Cache.Type)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Session.CloneThreshold <= 0 {
		return fmt.Errorf("clone threshold must be positive, got %d", c.Session.CloneThreshold)
	}
	return nil
}
