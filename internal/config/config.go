// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

// Cache backends understood by CacheConfig.Backend.
const (
	CacheBackendNone   = "none"
	CacheBackendMemory = "memory"
	CacheBackendLocal  = "local"
	CacheBackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig                      `mapstructure:"server"`
	Auth         AuthConfig                        `mapstructure:"auth"`
	Provider     ProviderConfig                    `mapstructure:"provider"`
	Tiers        TiersConfig                       `mapstructure:"tiers"`
	Cache        CacheConfig                       `mapstructure:"cache"`
	DB           DBConfig                          `mapstructure:"database"`
	PubSub       PubSubConfig                      `mapstructure:"pubsub"`
	RateLimit    RateLimitConfig                   `mapstructure:"ratelimit"`
	Jobs         JobsConfig                        `mapstructure:"jobs"`
	Logging      LoggingConfig                     `mapstructure:"logging"`
	Tracing      TracingConfig                     `mapstructure:"tracing"`
	Progress     ProgressConfig                    `mapstructure:"progress"`
	StandardJobs map[string][]crawler.FetchRequest `mapstructure:"standard_jobs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ProviderConfig describes how to reach the scraping provider.
type ProviderConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	APIKey                string `mapstructure:"api_key"`
	UserAgent             string `mapstructure:"user_agent"`
	AttemptTimeoutSeconds int    `mapstructure:"attempt_timeout_seconds"`
	MaxBytes              int    `mapstructure:"max_bytes"`
	// RenderHintBytes is the visible text length below which a scripted page
	// is flagged as needing render_js; 0 disables render hints.
	RenderHintBytes int `mapstructure:"render_hint_threshold_bytes"`
}

// TiersConfig prices tiers and paces same-tier retries.
type TiersConfig struct {
	Costs            map[string]int `mapstructure:"costs"`
	BackoffInitialMs int            `mapstructure:"rate_limit_backoff_initial_ms"`
	BackoffMaxMs     int            `mapstructure:"rate_limit_backoff_max_ms"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Backend string           `mapstructure:"backend"`
	Bucket  string           `mapstructure:"bucket"`
	Prefix  string           `mapstructure:"prefix"`
	Salt    string           `mapstructure:"salt"`
	Local   LocalCacheConfig `mapstructure:"local"`
}

// LocalCacheConfig holds filesystem cache settings.
type LocalCacheConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DBConfig controls access to the attempt ledger.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig throttles outbound provider calls.
type RateLimitConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ProviderRPS   float64 `mapstructure:"provider_rps"`
	ProviderBurst int     `mapstructure:"provider_burst"`
	DefaultRPS    float64 `mapstructure:"default_rps"`
	DefaultBurst  int     `mapstructure:"default_burst"`
}

// JobsConfig sizes the batch worker pool.
type JobsConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	QueueDepth     int `mapstructure:"queue_depth"`
	MaxRequests    int `mapstructure:"max_requests"`
	EnqueueTimeout int `mapstructure:"enqueue_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	// Exporter is "stdout" or "none"; with "none" spans are sampled for
	// propagation only.
	Exporter string `mapstructure:"exporter"`
	// SampleRatio is the fraction of root spans kept.
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ProgressConfig tunes the batch job progress hub.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
}

// ProgressBatchConfig bounds how events are grouped before reaching sinks.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TIERFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("provider.base_url", "https://app.scrapingbee.com/api/v1/")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.user_agent", "tierfetch/0.1")
	v.SetDefault("provider.attempt_timeout_seconds", 30)
	v.SetDefault("provider.max_bytes", crawler.MaxContentBytes)
	v.SetDefault("provider.render_hint_threshold_bytes", 2048)
	v.SetDefault("tiers.rate_limit_backoff_initial_ms", 500)
	v.SetDefault("tiers.rate_limit_backoff_max_ms", 4000)
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.prefix", "fetch-cache")
	v.SetDefault("cache.local.base_dir", "./data/cache")
	v.SetDefault("database.table", "fetch_attempts")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.provider_rps", 5)
	v.SetDefault("ratelimit.provider_burst", 5)
	v.SetDefault("ratelimit.default_rps", 1)
	v.SetDefault("ratelimit.default_burst", 2)
	v.SetDefault("jobs.concurrency", 4)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.max_requests", 100)
	v.SetDefault("jobs.enqueue_timeout_seconds", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "tierfetch")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait_ms", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Provider.AttemptTimeoutSeconds <= 0 {
		return fmt.Errorf("provider.attempt_timeout_seconds must be > 0")
	}
	if c.Provider.MaxBytes <= 0 || c.Provider.MaxBytes > crawler.MaxContentBytes {
		return fmt.Errorf("provider.max_bytes must be in (0, %d]", crawler.MaxContentBytes)
	}
	if c.Tiers.BackoffInitialMs <= 0 || c.Tiers.BackoffMaxMs < c.Tiers.BackoffInitialMs {
		return fmt.Errorf("tiers backoff must satisfy 0 < initial <= max")
	}
	for name, cost := range c.Tiers.Costs {
		if !crawler.Tier(name).Valid() {
			return fmt.Errorf("tiers.costs: unknown tier %q", name)
		}
		if cost <= 0 {
			return fmt.Errorf("tiers.costs.%s must be > 0", name)
		}
	}
	switch c.Cache.Backend {
	case CacheBackendNone, CacheBackendMemory:
	case CacheBackendLocal:
		if c.Cache.Local.BaseDir == "" {
			return fmt.Errorf("cache.local.base_dir is required for the local backend")
		}
	case CacheBackendGCS:
		if c.Cache.Bucket == "" {
			return fmt.Errorf("cache.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	if c.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Progress.Enabled && (c.Progress.BufferSize <= 0 || c.Progress.Batch.MaxEvents <= 0) {
		return fmt.Errorf("progress buffer_size and batch.max_events must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// AttemptTimeout bounds one provider call.
func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Provider.AttemptTimeoutSeconds) * time.Second
}

// RequestTimeout bounds one inbound HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// BackoffInitial is the first same-tier retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Tiers.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the same-tier retry delay.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Tiers.BackoffMaxMs) * time.Millisecond
}

// TierCosts converts the configured cost table to tier keys.
func (c Config) TierCosts() map[crawler.Tier]int {
	costs := make(map[crawler.Tier]int, len(c.Tiers.Costs))
	for name, cost := range c.Tiers.Costs {
		costs[crawler.Tier(name)] = cost
	}
	return costs
}
