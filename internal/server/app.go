// Package server builds the application's dependency graph from configuration
// and runs it either as a one-shot job or as an HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/api"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/clock/system"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/config"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/crawler"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/discovery"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/documents"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/embedding"
	collyfetcher "github.com/bloodyteeths/nabavkidata-sub002/internal/fetcher/colly"
	headlessfetcher "github.com/bloodyteeths/nabavkidata-sub002/internal/fetcher/headless"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/gate"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/id/uuid"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/logging"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/metrics"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/pipeline"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/policy/ratelimit"
	gcppublisher "github.com/bloodyteeths/nabavkidata-sub002/internal/publisher/pubsub"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/retry"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/routes"
	gcsstorage "github.com/bloodyteeths/nabavkidata-sub002/internal/storage/gcs"
	localstorage "github.com/bloodyteeths/nabavkidata-sub002/internal/storage/local"
	memorystorage "github.com/bloodyteeths/nabavkidata-sub002/internal/storage/memory"
	pgstore "github.com/bloodyteeths/nabavkidata-sub002/internal/storage/postgres"
	s3storage "github.com/bloodyteeths/nabavkidata-sub002/internal/storage/s3"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/telemetry"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// Version is stamped at build time.
var Version = "dev"

const serviceName = "nabavki-ingest"

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        tender.Store
	routes       *routes.File
	orchestrator *pipeline.Orchestrator
	apiServer    *api.Server

	closers []func(context.Context) error
}

// Build creates the application's dependencies. The caller owns the logger.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.shutdown(context.Background())
		}
	}()

	metrics.Init()
	flush := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Environment:      cfg.Sentry.Environment,
		Release:          Version,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
	}, logger)
	app.onClose(func(context.Context) error { flush(); return nil })

	tp, err := telemetry.InitTracerProvider(ctx, serviceName, Version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.onClose(tp.Shutdown)

	clock := system.New()
	ids := uuid.New()

	if err := app.setupStore(ctx, clock); err != nil {
		return nil, err
	}
	app.routes, err = routes.Load(cfg.Portal.RoutesFile)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	if app.routes.BaseURL == "" {
		app.routes.BaseURL = cfg.Portal.BaseURL
	}

	renderer, err := headlessfetcher.New(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Portal.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
		IdleTimeout:       time.Duration(cfg.Headless.IdleTimeoutSec) * time.Second,
		Settle:            time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
		ExecPath:          cfg.Headless.ExecPath,
	})
	if err != nil {
		return nil, fmt.Errorf("headless renderer init failed: %w", err)
	}
	app.onClose(func(context.Context) error { renderer.Close(); return nil })
	logger.Info("using headless renderer", zap.Int("max_parallel", cfg.Headless.MaxParallel))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Crawler.RequestsPerSecond,
		Burst:             cfg.Crawler.Burst,
	})
	backoff := retry.NewExponential(
		cfg.HTTP.MaxRetries+1,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	crawl := crawler.New(renderer, limiter, app.routes, crawler.Config{
		Concurrency: cfg.Crawler.Concurrency,
		Retry:       backoff,
	}, logging.Component(logger, "crawler"))
	prober := discovery.New(renderer, app.routes, clock, discovery.Config{
		Concurrency: cfg.Discovery.Concurrency,
		MinItems:    cfg.Discovery.MinItems,
	}, logging.Component(logger, "discovery"))

	engine, err := app.setupDocuments(ctx, clock, backoff)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Store:     app.store,
		Routes:    app.routes,
		Crawler:   crawl,
		Gate:      gate.New(app.store, clock, logging.Component(logger, "gate")),
		Prober:    prober,
		Documents: engine,
		Clock:     clock,
		IDs:       ids,
	}
	var queryEmbedder api.QueryEmbedder
	if cfg.Embedding.Enabled {
		client := embedding.NewClient(embedding.Config{
			APIKey:            cfg.Embedding.APIKey,
			BaseURL:           cfg.Embedding.BaseURL,
			Model:             cfg.Embedding.Model,
			Dimensions:        cfg.Embedding.Dimensions,
			MaxRetries:        cfg.Embedding.MaxRetries,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
			RetryBaseDelay:    time.Second,
			RetryMaxDelay:     30 * time.Second,
		}, logging.Component(logger, "embedding"))
		deps.Embedder = embedding.New(client, app.store, clock, embedding.GeneratorConfig{
			Chunk: embedding.ChunkConfig{
				MaxChars:  cfg.Embedding.ChunkMaxChars,
				MinChars:  cfg.Embedding.ChunkMinChars,
				Overlap:   cfg.Embedding.ChunkOverlap,
				MaxChunks: cfg.Embedding.MaxChunks,
			},
			BatchSize:       cfg.Embedding.BatchSize,
			MaxDeferRetries: cfg.Embedding.MaxDeferRetries,
		}, logging.Component(logger, "embedding"))
		queryEmbedder = client
		logger.Info("embedding enabled", zap.String("model", cfg.Embedding.Model), zap.Int("dimensions", cfg.Embedding.Dimensions))
	} else {
		logger.Warn("embedding disabled; extracted documents will not be chunked")
	}

	if cfg.PubSub.Enabled {
		pub, err := gcppublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.onClose(func(context.Context) error { return pub.Close() })
		deps.Publisher = pub
		logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	}

	app.orchestrator = pipeline.New(deps, pipeline.Config{
		MaxPagesFull:         cfg.Crawler.MaxPagesFull,
		MaxPagesIncremental:  cfg.Crawler.MaxPagesIncremental,
		IncrementalStopAfter: cfg.Crawler.IncrementalStopAfter,
		DocumentConcurrency:  cfg.Documents.Concurrency,
		QueueDepth:           cfg.Documents.QueueDepth,
		ReportPath:           cfg.Discovery.ReportPath,
		Topic:                cfg.PubSub.TopicName,
	}, logging.Component(logger, "pipeline"))

	app.apiServer = api.NewServer(app.store, app.orchestrator, queryEmbedder, cfg, logging.Component(logger, "api"))

	ok = true
	return app, nil
}

func (a *App) setupStore(ctx context.Context, clock tender.Clock) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory store")
		a.store = memorystorage.NewStore()
		return nil
	}
	if a.cfg.DB.AutoMigrate {
		res, err := pgstore.Migrate(a.cfg.DB.DSN, logging.Component(a.logger, "migrate"))
		if err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		a.logger.Info("database schema ready", zap.Uint("version", res.Version), zap.Bool("applied", res.Applied))
	}
	store, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMin) * time.Minute,
	}, clock)
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.onClose(func(context.Context) error { store.Close(); return nil })
	a.store = store
	a.logger.Info("postgres store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupDocuments(ctx context.Context, clock tender.Clock, backoff retry.Policy) (*documents.Engine, error) {
	downloader := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Portal.UserAgent,
		Timeout:   a.cfg.DownloadTimeout(),
		MaxBytes:  int(a.cfg.Documents.MaxBytes),
	})
	var opts []documents.Option
	if a.cfg.Documents.ArchiveRaw {
		blobs, err := a.setupBlobStore(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, documents.WithBlobStore(blobs))
	}
	if a.cfg.OCR.Enabled {
		opts = append(opts, documents.WithOCR(documents.NewHTTPOCR(documents.HTTPOCRConfig{
			Endpoint: a.cfg.OCR.Endpoint,
			APIToken: a.cfg.OCR.APIToken,
			Language: a.cfg.OCR.Language,
			Timeout:  time.Duration(a.cfg.OCR.TimeoutSec) * time.Second,
		})))
		a.logger.Info("ocr enabled", zap.String("endpoint", a.cfg.OCR.Endpoint))
	}
	return documents.NewEngine(a.store, downloader, clock, documents.Config{
		MaxAttempts:     a.cfg.Documents.MaxAttempts,
		DownloadTimeout: a.cfg.DownloadTimeout(),
		RetryBaseDelay:  backoff.BaseDelay,
		RetryMaxDelay:   backoff.MaxDelay,
		MinTextChars:    a.cfg.Documents.MinTextChars,
		BlobPrefix:      a.cfg.Storage.Prefix,
	}, logging.Component(a.logger, "documents"), opts...), nil
}

func (a *App) setupBlobStore(ctx context.Context) (tender.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose(func(context.Context) error { return store.Close() })
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case "s3":
		s3cfg := a.cfg.Storage.S3
		store, err := s3storage.New(ctx, s3storage.Config{
			Endpoint:        s3cfg.Endpoint,
			Region:          s3cfg.Region,
			Bucket:          s3cfg.Bucket,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		a.logger.Info("using S3 storage backend", zap.String("bucket", s3cfg.Bucket), zap.String("endpoint", s3cfg.Endpoint))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		return store, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

// Store exposes the configured persistence layer.
func (a *App) Store() tender.Store { return a.store }

// Routes exposes the loaded route file.
func (a *App) Routes() *routes.File { return a.routes }

// RunOnce executes a single orchestrator run.
func (a *App) RunOnce(ctx context.Context, req pipeline.Request) (pipeline.Summary, error) {
	return a.orchestrator.Run(ctx, req)
}

// Serve starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.apiServer.StopRuns()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.shutdown(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// shutdown runs closers in reverse registration order.
func (a *App) shutdown(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	a.closers = nil
}
