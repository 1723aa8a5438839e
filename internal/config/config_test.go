package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
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
portal:
  base_url: https://portal.example
  routes_file: conf/routes.yaml
crawler:
  concurrency: 6
  max_pages_incremental: 3
headless:
  max_parallel: 1
documents:
  download_timeout_seconds: 20
embedding:
  dimensions: 768
  batch_size: 16
storage:
  backend: gcs
  gcs_bucket: raw-docs
logging:
  development: false
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
	if cfg.Portal.BaseURL != "https://portal.example" || cfg.Portal.RoutesFile != "conf/routes.yaml" {
		t.Fatalf("expected portal overrides, got %+v", cfg.Portal)
	}
	if cfg.Crawler.Concurrency != 6 {
		t.Fatalf("expected crawler concurrency 6, got %d", cfg.Crawler.Concurrency)
	}
	if got := cfg.MaxPages(false, 0); got != 3 {
		t.Fatalf("expected incremental page cap 3, got %d", got)
	}
	if got := cfg.DownloadTimeout(); got != 20*time.Second {
		t.Fatalf("expected download timeout 20s, got %v", got)
	}
	if cfg.Embedding.Dimensions != 768 || cfg.Embedding.BatchSize != 16 {
		t.Fatalf("expected embedding overrides, got %+v", cfg.Embedding)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "raw-docs" {
		t.Fatalf("expected gcs storage, got %+v", cfg.Storage)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Headless.MaxParallel != 2 || cfg.Discovery.Concurrency != 2 {
		t.Fatalf("expected low browser concurrency defaults, got %d/%d", cfg.Headless.MaxParallel, cfg.Discovery.Concurrency)
	}
	if cfg.Documents.MaxAttempts != 3 {
		t.Fatalf("expected 3 download attempts, got %d", cfg.Documents.MaxAttempts)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected memory storage default, got %q", cfg.Storage.Backend)
	}
	if got := cfg.MaxPages(true, 7); got != 7 {
		t.Fatalf("expected explicit override to win, got %d", got)
	}
	if got := cfg.MaxPages(true, 0); got != 500 {
		t.Fatalf("expected full page cap 500, got %d", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NABAVKI_SERVER_PORT", "7070")
	t.Setenv("NABAVKI_EMBEDDING_MODEL", "text-embedding-3-large")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Embedding.Model != "text-embedding-3-large" {
		t.Fatalf("expected env model override, got %q", cfg.Embedding.Model)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"discovery concurrency too high", func(c *Config) { c.Discovery.Concurrency = 4 }, "discovery.concurrency"},
		{"headless parallel zero", func(c *Config) { c.Headless.MaxParallel = 0 }, "headless.max_parallel"},
		{"overlap exceeds chunk", func(c *Config) { c.Embedding.ChunkOverlap = c.Embedding.ChunkMaxChars }, "chunk_overlap"},
		{"ocr without endpoint", func(c *Config) { c.OCR.Enabled = true }, "ocr.endpoint"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }, "storage.s3.bucket"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, "unknown storage.backend"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
