// Package config loads and validates crawld configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Validation ValidateConfig   `mapstructure:"validate"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Fleet      FleetConfig      `mapstructure:"fleet"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the execution loop and fetch pipeline.
type CrawlerConfig struct {
	Concurrency         int      `mapstructure:"concurrency"`
	MinConcurrency      int      `mapstructure:"min_concurrency"`
	UserAgent           string   `mapstructure:"user_agent"`
	FetchTimeoutSec     int      `mapstructure:"fetch_timeout_seconds"`
	MaxAttempts         int      `mapstructure:"max_attempts"`
	MaxDepth            int      `mapstructure:"max_depth"`
	DiscoverLinks       bool     `mapstructure:"discover_links"`
	TLSFingerprintHosts []string `mapstructure:"tls_fingerprint_hosts"`
}

// ThrottleConfig tunes per-host rate limiting.
type ThrottleConfig struct {
	DefaultRPS float64 `mapstructure:"default_rps"`
	MinRPS     float64 `mapstructure:"min_rps"`
	MaxRPS     float64 `mapstructure:"max_rps"`
	Burst      int     `mapstructure:"burst"`
	MaxPerHost int     `mapstructure:"max_per_host"`
	MaxHosts   int     `mapstructure:"max_hosts"`
}

// ResilienceConfig tunes the circuit breaker and watchdog.
type ResilienceConfig struct {
	HardFailureThreshold float64 `mapstructure:"hard_failure_threshold"`
	BaseBackoffSec       int     `mapstructure:"base_backoff_seconds"`
	MaxBackoffSec        int     `mapstructure:"max_backoff_seconds"`
	StallThresholdSec    int     `mapstructure:"stall_threshold_seconds"`
	MaxHeapMB            int     `mapstructure:"max_heap_mb"`
}

// ValidateConfig tunes content classification.
type ValidateConfig struct {
	MinBytes          int      `mapstructure:"min_bytes"`
	RequiredSelectors []string `mapstructure:"required_selectors"`
}

// HeadlessConfig configures the browser fallback.
type HeadlessConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxConcurrency int  `mapstructure:"max_concurrency"`
	NavTimeoutSec  int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects the blob backend and cache location.
type StorageConfig struct {
	// Backend is one of gcs, local, memory.
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	CachePath string `mapstructure:"cache_path"`
	CacheTTL  string `mapstructure:"cache_ttl"`
}

// DBConfig controls access to the relational page store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for outcome notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// WorkerConfig controls the fetch-worker HTTP server.
type WorkerConfig struct {
	Port         int  `mapstructure:"port"`
	MaxBatchSize int  `mapstructure:"max_batch_size"`
	IncludeBody  bool `mapstructure:"include_body"`
}

// FleetConfig names the remote workers and host routing.
type FleetConfig struct {
	// Workers are base URLs of remote fetch workers.
	Workers []string `mapstructure:"workers"`
	// RemoteHosts routes the named hosts through remote workers.
	RemoteHosts []string `mapstructure:"remote_hosts"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLD")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.min_concurrency", 2)
	v.SetDefault("crawler.user_agent", "crawld/1.0 (+https://github.com/crawlkit/crawld)")
	v.SetDefault("crawler.fetch_timeout_seconds", 60)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.discover_links", true)
	v.SetDefault("throttle.default_rps", 1.0)
	v.SetDefault("throttle.min_rps", 0.1)
	v.SetDefault("throttle.max_rps", 8.0)
	v.SetDefault("throttle.burst", 1)
	v.SetDefault("throttle.max_per_host", 2)
	v.SetDefault("throttle.max_hosts", 10000)
	v.SetDefault("resilience.hard_failure_threshold", 5)
	v.SetDefault("resilience.base_backoff_seconds", 30)
	v.SetDefault("resilience.max_backoff_seconds", 1800)
	v.SetDefault("resilience.stall_threshold_seconds", 300)
	v.SetDefault("validate.min_bytes", 512)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_concurrency", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("db.table", "pages")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("worker.port", 8090)
	v.SetDefault("worker.max_batch_size", 32)
	v.SetDefault("worker.include_body", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.FetchTimeoutSec <= 0 {
		return fmt.Errorf("crawler.fetch_timeout_seconds must be > 0")
	}
	if c.Throttle.MinRPS > c.Throttle.MaxRPS {
		return fmt.Errorf("throttle.min_rps must not exceed throttle.max_rps")
	}
	if c.Headless.Enabled && c.Headless.MaxConcurrency <= 0 {
		return fmt.Errorf("headless.max_concurrency must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, gcs, local")
	}
	if c.Worker.Port <= 0 {
		return fmt.Errorf("worker.port must be > 0")
	}
	return nil
}

// FetchTimeout converts the configured fetch budget into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.FetchTimeoutSec) * time.Second
}

// CacheTTL parses the configured cache TTL, zero when unset.
func (c Config) CacheTTL() time.Duration {
	if c.Storage.CacheTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Storage.CacheTTL)
	if err != nil {
		return 0
	}
	return d
}
