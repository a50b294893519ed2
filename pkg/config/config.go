package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/ocrgate/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all ocrgate configuration.
type Config struct {
	Listen      string             `yaml:"listen"`
	DBPath      string             `yaml:"db_path"`
	Log         LogConfig          `yaml:"log"`
	Workers     WorkersConfig      `yaml:"workers"`
	Primary     PrimaryConfig      `yaml:"primary"`
	Secondary   SecondaryConfig    `yaml:"secondary"`
	Quota       QuotaConfig        `yaml:"quota"`
	RateLimit   RateLimitConfig    `yaml:"rate_limit"`
	Storage     StorageConfig      `yaml:"storage"`
	PostProcess PostProcessConfig  `yaml:"postprocess"`
	Audit       models.AuditConfig `yaml:"audit"`
	Cache       CacheConfig        `yaml:"cache"`
	Metrics     MetricsConfig      `yaml:"metrics"`
}

// LogConfig selects the zap encoder and level.
// Format is "json" (default) or "console".
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WorkersConfig lists the recognition workers and how dispatch uses them.
type WorkersConfig struct {
	Addresses      []string      `yaml:"addresses"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// PrimaryConfig controls calls to the gRPC workers.
type PrimaryConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	RetryCount  int           `yaml:"retry_count"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	Language    string        `yaml:"language"`
}

// SecondaryConfig controls the cloud Read fallback.
type SecondaryConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Endpoint          string        `yaml:"endpoint"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryCount        int           `yaml:"retry_count"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// QuotaConfig selects the usage ledger backend and its limits.
// Driver is "sqlite" (default), "postgres", "redis" or "memory".
type QuotaConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	ResetDay  int    `yaml:"reset_day"`
	HardLimit int64  `yaml:"hard_limit"`
}

// RateLimitConfig controls per-client admission.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	PermitLimit int           `yaml:"permit_limit"`
	Window      time.Duration `yaml:"window"`
}

// StorageConfig controls where uploads are staged.
type StorageConfig struct {
	Root           string `yaml:"root"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// PostProcessConfig holds sample values used to build field detectors.
type PostProcessConfig struct {
	RemitoExamples []string `yaml:"remito_examples"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "ocrgate.db",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Workers: WorkersConfig{
			MaxAttempts:    3,
			AcquireTimeout: 120 * time.Second,
		},
		Primary: PrimaryConfig{
			Timeout:     30 * time.Second,
			RetryCount:  3,
			BackoffBase: 200 * time.Millisecond,
			Language:    "es",
		},
		Secondary: SecondaryConfig{
			Timeout:     30 * time.Second,
			RetryCount:  3,
			BackoffBase: 500 * time.Millisecond,
		},
		Quota: QuotaConfig{
			Driver:    "sqlite",
			ResetDay:  1,
			HardLimit: 50000,
		},
		RateLimit: RateLimitConfig{
			Enabled:     false,
			PermitLimit: 60,
			Window:      60 * time.Second,
		},
		Storage: StorageConfig{
			Root:           "./temp",
			MaxUploadBytes: 100 << 20,
		},
		PostProcess: PostProcessConfig{
			RemitoExamples: []string{"0001-00001234", "0002-00005678"},
		},
		Audit: models.AuditConfig{
			Enabled:       true,
			DBPath:        "ocrgate-audit.db",
			RetentionDays: 90,
		},
		Cache: CacheConfig{
			Enabled: false,
			TTL:     24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would make the server misbehave at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers.MaxAttempts < 1 {
		errs = append(errs, errors.New("workers.max_attempts must be at least 1"))
	}
	if c.Primary.Timeout <= 0 {
		errs = append(errs, errors.New("primary.timeout must be positive"))
	}
	if c.Primary.RetryCount < 0 || c.Secondary.RetryCount < 0 {
		errs = append(errs, errors.New("retry_count must not be negative"))
	}
	if c.Secondary.Enabled {
		if c.Secondary.Endpoint == "" {
			errs = append(errs, errors.New("secondary.endpoint is required when secondary is enabled"))
		}
		if c.Secondary.Timeout <= 0 {
			errs = append(errs, errors.New("secondary.timeout must be positive"))
		}
	}
	if c.Quota.ResetDay < 1 || c.Quota.ResetDay > 31 {
		errs = append(errs, fmt.Errorf("quota.reset_day %d out of range 1-31", c.Quota.ResetDay))
	}
	switch c.Quota.Driver {
	case "", "sqlite", "memory":
	case "postgres", "redis":
		if c.Quota.DSN == "" {
			errs = append(errs, fmt.Errorf("quota.dsn is required for driver %q", c.Quota.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown quota.driver %q", c.Quota.Driver))
	}
	if c.RateLimit.Enabled && (c.RateLimit.PermitLimit < 1 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit needs a positive permit_limit and window"))
	}
	return errors.Join(errs...)
}
