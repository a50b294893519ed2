package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Workers.AcquireTimeout != 120*time.Second {
		t.Errorf("expected 120s acquire timeout, got %v", cfg.Workers.AcquireTimeout)
	}
	if cfg.Quota.HardLimit != 50000 {
		t.Errorf("expected hard limit 50000, got %d", cfg.Quota.HardLimit)
	}
	if cfg.Primary.Language != "es" {
		t.Errorf("expected language es, got %s", cfg.Primary.Language)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_READ_KEY", "key-test-123")

	content := `
listen: ":9090"
workers:
  addresses:
    - "dns:///worker-a:50051"
    - "dns:///worker-b:50051"
  max_attempts: 2
  acquire_timeout: 5s
secondary:
  enabled: true
  endpoint: https://read.example.com/vision/v3.2/read/syncAnalyze
  api_key: ${TEST_READ_KEY}
quota:
  reset_day: 15
  hard_limit: 100
rate_limit:
  enabled: true
  permit_limit: 10
  window: 30s
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if len(cfg.Workers.Addresses) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(cfg.Workers.Addresses))
	}
	if cfg.Workers.AcquireTimeout != 5*time.Second {
		t.Errorf("expected 5s acquire timeout, got %v", cfg.Workers.AcquireTimeout)
	}
	if cfg.Secondary.APIKey != "key-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Secondary.APIKey)
	}
	if cfg.Secondary.RetryCount != 3 {
		t.Errorf("expected default retry count 3, got %d", cfg.Secondary.RetryCount)
	}
	if cfg.Quota.ResetDay != 15 || cfg.Quota.HardLimit != 100 {
		t.Errorf("unexpected quota config: %+v", cfg.Quota)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("unexpected rate limit config: %+v", cfg.RateLimit)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Workers.MaxAttempts = 0 }},
		{"reset day", func(c *Config) { c.Quota.ResetDay = 32 }},
		{"unknown driver", func(c *Config) { c.Quota.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Quota.Driver = "postgres" }},
		{"secondary without endpoint", func(c *Config) { c.Secondary.Enabled = true }},
		{"rate limit window", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Window = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
