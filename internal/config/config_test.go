package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8, cfg.Crawler.Concurrency)
	require.Equal(t, 60*time.Second, cfg.FetchTimeout())
	require.Equal(t, 1.0, cfg.Throttle.DefaultRPS)
	require.Equal(t, 5.0, cfg.Resilience.HardFailureThreshold)
	require.Equal(t, 512, cfg.Validation.MinBytes)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "pages", cfg.DB.Table)
	require.Equal(t, 8090, cfg.Worker.Port)
	require.True(t, cfg.Worker.IncludeBody)
	require.False(t, cfg.Headless.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
crawler:
  concurrency: 16
  tls_fingerprint_hosts:
    - picky.example
throttle:
  max_rps: 4
validate:
  min_bytes: 256
  required_selectors:
    - article
storage:
  backend: local
  local_dir: /tmp/blobs
  cache_ttl: 12h
fleet:
  workers:
    - http://worker-1:8090
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Crawler.Concurrency)
	require.Equal(t, []string{"picky.example"}, cfg.Crawler.TLSFingerprintHosts)
	require.Equal(t, 4.0, cfg.Throttle.MaxRPS)
	require.Equal(t, 256, cfg.Validation.MinBytes)
	require.Equal(t, []string{"article"}, cfg.Validation.RequiredSelectors)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, 12*time.Hour, cfg.CacheTTL())
	require.Equal(t, []string{"http://worker-1:8090"}, cfg.Fleet.Workers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }},
		{"zero fetch timeout", func(c *Config) { c.Crawler.FetchTimeoutSec = 0 }},
		{"inverted rps bounds", func(c *Config) { c.Throttle.MinRPS = 10; c.Throttle.MaxRPS = 1 }},
		{"headless without slots", func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxConcurrency = 0 }},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }},
		{"local without dir", func(c *Config) { c.Storage.Backend = "local" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"zero worker port", func(c *Config) { c.Worker.Port = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
