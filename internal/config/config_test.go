package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
provider:
  api_key: bee-key
  attempt_timeout_seconds: 12
  max_bytes: 1024
tiers:
  costs:
    premium: 10
  rate_limit_backoff_initial_ms: 100
  rate_limit_backoff_max_ms: 800
cache:
  backend: local
  prefix: cached
  local:
    base_dir: /tmp/tierfetch
jobs:
  concurrency: 6
  queue_depth: 128
logging:
  development: false
standard_jobs:
  price-refresh:
    - url: https://example.com
      proxy_tier: premium
    - url: https://example.com/report.pdf
      download_file: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Provider.APIKey != "bee-key" || cfg.Provider.MaxBytes != 1024 {
		t.Fatalf("expected provider overrides to apply: %+v", cfg.Provider)
	}
	if got := cfg.AttemptTimeout(); got != 12*time.Second {
		t.Fatalf("expected attempt timeout 12s, got %v", got)
	}
	if cfg.BackoffInitial() != 100*time.Millisecond || cfg.BackoffMax() != 800*time.Millisecond {
		t.Fatalf("unexpected backoff %v/%v", cfg.BackoffInitial(), cfg.BackoffMax())
	}
	if got := cfg.TierCosts()[crawler.TierPremium]; got != 10 {
		t.Fatalf("expected premium cost 10, got %d", got)
	}
	if cfg.Cache.Backend != CacheBackendLocal || cfg.Cache.Local.BaseDir != "/tmp/tierfetch" {
		t.Fatalf("expected local cache backend: %+v", cfg.Cache)
	}
	if cfg.Jobs.Concurrency != 6 || cfg.Jobs.QueueDepth != 128 {
		t.Fatalf("expected job overrides to apply: %+v", cfg.Jobs)
	}
	batch, ok := cfg.StandardJobs["price-refresh"]
	if !ok || len(batch) != 2 {
		t.Fatalf("expected standard job to be loaded: %+v", cfg.StandardJobs)
	}
	if batch[0].ProxyTier != crawler.TierPremium || !batch[1].DownloadFile {
		t.Fatalf("expected request fields to be preserved: %+v", batch)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.BaseURL != "https://app.scrapingbee.com/api/v1/" {
		t.Fatalf("unexpected base url %q", cfg.Provider.BaseURL)
	}
	if cfg.Provider.MaxBytes != crawler.MaxContentBytes {
		t.Fatalf("expected max bytes %d, got %d", crawler.MaxContentBytes, cfg.Provider.MaxBytes)
	}
	if cfg.AttemptTimeout() != 30*time.Second {
		t.Fatalf("expected 30s attempt timeout, got %v", cfg.AttemptTimeout())
	}
	if cfg.BackoffInitial() != 500*time.Millisecond {
		t.Fatalf("expected 500ms backoff, got %v", cfg.BackoffInitial())
	}
	if cfg.Cache.Backend != CacheBackendMemory {
		t.Fatalf("expected memory cache, got %q", cfg.Cache.Backend)
	}
	if !cfg.Progress.Enabled || cfg.Progress.BufferSize != 1024 || cfg.Progress.Batch.MaxWaitMs != 500 {
		t.Fatalf("unexpected progress defaults: %+v", cfg.Progress)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TIERFETCH_PROVIDER_API_KEY", "from-env")
	t.Setenv("TIERFETCH_SERVER_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.APIKey != "from-env" {
		t.Fatalf("expected api key from env, got %q", cfg.Provider.APIKey)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected port 7070, got %d", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Provider: ProviderConfig{BaseURL: "https://provider.test/", AttemptTimeoutSeconds: 30, MaxBytes: 1024},
		Tiers:    TiersConfig{BackoffInitialMs: 500, BackoffMaxMs: 1000},
		Cache:    CacheConfig{Backend: CacheBackendMemory},
		Jobs:     JobsConfig{Concurrency: 1, QueueDepth: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"missing base url", func(c *Config) { c.Provider.BaseURL = "" }, "provider.base_url"},
		{"invalid attempt timeout", func(c *Config) { c.Provider.AttemptTimeoutSeconds = 0 }, "provider.attempt_timeout_seconds"},
		{"max bytes above cap", func(c *Config) { c.Provider.MaxBytes = crawler.MaxContentBytes + 1 }, "provider.max_bytes"},
		{"inverted backoff", func(c *Config) { c.Tiers.BackoffMaxMs = 10 }, "tiers backoff"},
		{"unknown tier cost", func(c *Config) { c.Tiers.Costs = map[string]int{"gold": 5} }, "unknown tier"},
		{"zero tier cost", func(c *Config) { c.Tiers.Costs = map[string]int{"premium": 0} }, "tiers.costs.premium"},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "redis" }, "cache.backend"},
		{"local cache without dir", func(c *Config) { c.Cache.Backend = CacheBackendLocal }, "cache.local.base_dir"},
		{"gcs cache without bucket", func(c *Config) { c.Cache.Backend = CacheBackendGCS }, "cache.bucket"},
		{"invalid concurrency", func(c *Config) { c.Jobs.Concurrency = 0 }, "jobs.concurrency"},
		{"invalid queue depth", func(c *Config) { c.Jobs.QueueDepth = 0 }, "jobs.queue_depth"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "done" }, "pubsub.project_id"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown trace exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, "tracing.exporter"},
		{"sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "tracing.sample_ratio"},
		{"progress without buffer", func(c *Config) { c.Progress.Enabled = true }, "progress buffer_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Tiers.Costs = nil
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
