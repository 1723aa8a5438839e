// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Portal     PortalConfig     `mapstructure:"portal"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Documents  DocumentsConfig  `mapstructure:"documents"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	DB         DBConfig         `mapstructure:"db"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PortalConfig points at the procurement portal and its route file.
type PortalConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	RoutesFile string `mapstructure:"routes_file"`
	UserAgent  string `mapstructure:"user_agent"`
}

// CrawlerConfig governs listing pagination and detail resolution.
type CrawlerConfig struct {
	Concurrency          int     `mapstructure:"concurrency"`
	RequestsPerSecond    float64 `mapstructure:"requests_per_second"`
	Burst                int     `mapstructure:"burst"`
	MaxPagesFull         int     `mapstructure:"max_pages_full"`
	MaxPagesIncremental  int     `mapstructure:"max_pages_incremental"`
	IncrementalStopAfter int     `mapstructure:"incremental_stop_after"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the browser sessions used to render the portal.
type HeadlessConfig struct {
	MaxParallel    int    `mapstructure:"max_parallel"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	IdleTimeoutSec int    `mapstructure:"idle_timeout_seconds"`
	SettleMs       int    `mapstructure:"settle_ms"`
	ExecPath       string `mapstructure:"exec_path"`
}

// DiscoveryConfig configures the route prober.
type DiscoveryConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	ReportPath  string `mapstructure:"report_path"`
	MinItems    int    `mapstructure:"min_items"`
}

// DocumentsConfig configures download and extraction.
type DocumentsConfig struct {
	Concurrency        int   `mapstructure:"concurrency"`
	QueueDepth         int   `mapstructure:"queue_depth"`
	MaxAttempts        int   `mapstructure:"max_attempts"`
	DownloadTimeoutSec int   `mapstructure:"download_timeout_seconds"`
	MaxBytes           int64 `mapstructure:"max_bytes"`
	MinTextChars       int   `mapstructure:"min_text_chars"`
	ArchiveRaw         bool  `mapstructure:"archive_raw"`
}

// OCRConfig points at the remote OCR service.
type OCRConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	APIToken   string `mapstructure:"api_token"`
	Language   string `mapstructure:"language"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

// EmbeddingConfig configures chunking and the embedding API.
type EmbeddingConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Dimensions        int     `mapstructure:"dimensions"`
	BatchSize         int     `mapstructure:"batch_size"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	ChunkMaxChars     int     `mapstructure:"chunk_max_chars"`
	ChunkMinChars     int     `mapstructure:"chunk_min_chars"`
	ChunkOverlap      int     `mapstructure:"chunk_overlap"`
	// MaxChunks caps chunks per document; 0 embeds the whole text.
	MaxChunks       int `mapstructure:"max_chunks"`
	MaxDeferRetries int `mapstructure:"max_defer_retries"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// StorageConfig selects where raw document bytes are archived.
type StorageConfig struct {
	Backend   string   `mapstructure:"backend"`
	Prefix    string   `mapstructure:"prefix"`
	LocalDir  string   `mapstructure:"local_dir"`
	GCSBucket string   `mapstructure:"gcs_bucket"`
	S3        S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible bucket settings.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SentryConfig configures fatal error reporting.
type SentryConfig struct {
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NABAVKI")
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
	v.SetDefault("portal.base_url", "https://e-nabavki.gov.mk")
	v.SetDefault("portal.routes_file", "routes.yaml")
	v.SetDefault("portal.user_agent", "nabavki-ingest/0.1")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.requests_per_second", 1.0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.max_pages_full", 500)
	v.SetDefault("crawler.max_pages_incremental", 5)
	v.SetDefault("crawler.incremental_stop_after", 2)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.idle_timeout_seconds", 15)
	v.SetDefault("headless.settle_ms", 1500)
	v.SetDefault("discovery.concurrency", 2)
	v.SetDefault("discovery.report_path", "discovery_report.yaml")
	v.SetDefault("discovery.min_items", 1)
	v.SetDefault("documents.concurrency", 3)
	v.SetDefault("documents.queue_depth", 64)
	v.SetDefault("documents.max_attempts", 3)
	v.SetDefault("documents.download_timeout_seconds", 60)
	v.SetDefault("documents.max_bytes", 50<<20)
	v.SetDefault("documents.min_text_chars", 40)
	v.SetDefault("documents.archive_raw", true)
	v.SetDefault("ocr.enabled", false)
	v.SetDefault("ocr.language", "mkd+eng")
	v.SetDefault("ocr.timeout_seconds", 120)
	v.SetDefault("embedding.enabled", true)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.max_retries", 4)
	v.SetDefault("embedding.requests_per_second", 2.0)
	v.SetDefault("embedding.chunk_max_chars", 1200)
	v.SetDefault("embedding.chunk_min_chars", 400)
	v.SetDefault("embedding.chunk_overlap", 200)
	v.SetDefault("embedding.max_chunks", 0)
	v.SetDefault("embedding.max_defer_retries", 5)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "documents")
	v.SetDefault("storage.local_dir", "data/documents")
	v.SetDefault("pubsub.topic_name", "nabavki-runs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("sentry.environment", "development")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.MaxParallel <= 0 || c.Headless.MaxParallel > 2 {
		return fmt.Errorf("headless.max_parallel must be 1 or 2")
	}
	if c.Discovery.Concurrency <= 0 || c.Discovery.Concurrency > 2 {
		return fmt.Errorf("discovery.concurrency must be 1 or 2")
	}
	if c.Documents.Concurrency <= 0 {
		return fmt.Errorf("documents.concurrency must be > 0")
	}
	if c.Documents.MaxAttempts <= 0 {
		return fmt.Errorf("documents.max_attempts must be > 0")
	}
	if c.Embedding.Enabled {
		if c.Embedding.Dimensions <= 0 {
			return fmt.Errorf("embedding.dimensions must be > 0")
		}
		if c.Embedding.BatchSize <= 0 {
			return fmt.Errorf("embedding.batch_size must be > 0")
		}
		if c.Embedding.ChunkOverlap >= c.Embedding.ChunkMaxChars {
			return fmt.Errorf("embedding.chunk_overlap must be smaller than embedding.chunk_max_chars")
		}
	}
	if c.OCR.Enabled && c.OCR.Endpoint == "" {
		return fmt.Errorf("ocr.endpoint must be set when ocr is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// DownloadTimeout is the hard per-download budget.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Documents.DownloadTimeoutSec) * time.Second
}

// NavTimeout is the per-render navigation budget.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// MaxPages resolves the page cap for a mode, preferring an explicit override.
func (c Config) MaxPages(full bool, override int) int {
	if override > 0 {
		return override
	}
	if full {
		return c.Crawler.MaxPagesFull
	}
	return c.Crawler.MaxPagesIncremental
}
