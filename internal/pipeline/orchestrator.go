// Package pipeline sequences one ingestion run: it opens the ScrapeRun, drives
// discovery or the crawl, gate, document and embedding stages, and closes the
// run with a terminal status and the counts gathered so far.
//
// Per-item failures are absorbed into counts. Only systemic failures (no
// route, unreachable storage, every category unresolved, cancellation) fail
// the run. Committed record and document writes are never rolled back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/crawler"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/discovery"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/embedding"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/gate"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/metrics"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/routes"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/telemetry"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

var (
	// ErrInvalidRequest marks requests rejected before a run is opened.
	ErrInvalidRequest = errors.New("invalid run request")
	// ErrCategoryRequired is returned when a scrape mode is invoked without a category.
	ErrCategoryRequired = fmt.Errorf("%w: category is required for scrape modes", ErrInvalidRequest)
)

// Crawler paginates a category's canonical route.
type Crawler interface {
	Crawl(ctx context.Context, category string, maxPages int, handle crawler.PageHandler) (int, error)
}

// Gate decides whether a resolved record is new, updated, or unchanged.
type Gate interface {
	Process(ctx context.Context, rec tender.Record) (tender.Record, gate.Outcome, error)
}

// Prober scores candidate routes.
type Prober interface {
	Probe(ctx context.Context, names ...string) (discovery.Report, error)
}

// Documents registers and extracts linked documents.
type Documents interface {
	Register(ctx context.Context, rec tender.Record) ([]tender.Document, error)
	Process(ctx context.Context, doc tender.Document) (tender.Document, error)
	Refresh(ctx context.Context, doc tender.Document) (tender.Document, bool, error)
	RetryOCR(ctx context.Context, limit int) (int, error)
}

// Embedder chunks and embeds extracted documents.
type Embedder interface {
	EmbedDocument(ctx context.Context, doc tender.Document) (embedding.Result, error)
	DrainDeferred(ctx context.Context, limit int) (completed, failed int, err error)
	Retract(ctx context.Context, docID string) error
}

// Store is the bookkeeping surface the orchestrator needs.
type Store interface {
	tender.RunStore
	tender.Locker
	ListDocumentsByStatus(ctx context.Context, status tender.ExtractionStatus, limit int) ([]tender.Document, error)
	Ping(ctx context.Context) error
}

// Config tunes the orchestrator.
type Config struct {
	MaxPagesFull        int
	MaxPagesIncremental int
	// IncrementalStopAfter ends an incremental crawl after this many consecutive
	// pages without a new or updated record.
	IncrementalStopAfter int
	DocumentConcurrency  int
	QueueDepth           int
	// ResumeLimit bounds how many documents left pending by earlier runs are
	// picked up at the start of a scrape.
	ResumeLimit     int
	OCRRetryLimit   int
	DrainLimit      int
	ReportPath      string
	Topic           string
	StaleRunMessage string
}

func (c Config) withDefaults() Config {
	if c.MaxPagesIncremental <= 0 {
		c.MaxPagesIncremental = 5
	}
	if c.IncrementalStopAfter <= 0 {
		c.IncrementalStopAfter = 2
	}
	if c.DocumentConcurrency <= 0 {
		c.DocumentConcurrency = 3
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.ResumeLimit <= 0 {
		c.ResumeLimit = 100
	}
	if c.OCRRetryLimit <= 0 {
		c.OCRRetryLimit = 50
	}
	if c.DrainLimit <= 0 {
		c.DrainLimit = 100
	}
	if c.StaleRunMessage == "" {
		c.StaleRunMessage = "closed by crash recovery: run was still open when a new run started"
	}
	return c
}

// Request is one invocation of the trigger surface.
type Request struct {
	Mode     tender.Mode `json:"mode"`
	Category string      `json:"category"`
	MaxPages int         `json:"max_pages,omitempty"`
}

// Summary is the outcome of a run, returned to the caller and published.
type Summary struct {
	Run       tender.Run                      `json:"run"`
	Pages     int                             `json:"pages"`
	Documents map[tender.ExtractionStatus]int `json:"documents,omitempty"`
	Chunks    int                             `json:"chunks"`
	Deferred  int                             `json:"deferred_embeddings"`
	Recovered int                             `json:"recovered_embeddings"`
	Truncated int                             `json:"truncated_documents,omitempty"`
	Refreshed int                             `json:"refreshed_documents,omitempty"`
	Report    *discovery.Report               `json:"discovery,omitempty"`
}

// Attributes labels the notification for subscription filters.
func (s Summary) Attributes() map[string]string {
	return map[string]string{
		"mode":     string(s.Run.Mode),
		"category": s.Run.Category,
		"status":   string(s.Run.Status),
	}
}

// Orchestrator runs the pipeline.
type Orchestrator struct {
	store     Store
	routes    *routes.File
	crawler   Crawler
	gate      Gate
	prober    Prober
	documents Documents
	embedder  Embedder
	publisher tender.Publisher
	clock     tender.Clock
	ids       tender.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// Deps groups the collaborators of an Orchestrator. Embedder and Publisher
// are optional.
type Deps struct {
	Store     Store
	Routes    *routes.File
	Crawler   Crawler
	Gate      Gate
	Prober    Prober
	Documents Documents
	Embedder  Embedder
	Publisher tender.Publisher
	Clock     tender.Clock
	IDs       tender.IDGenerator
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     deps.Store,
		routes:    deps.Routes,
		crawler:   deps.Crawler,
		gate:      deps.Gate,
		prober:    deps.Prober,
		documents: deps.Documents,
		embedder:  deps.Embedder,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		ids:       deps.IDs,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Run executes req. Invalid requests and lock contention return an error
// without opening a run; once a run is open the returned Summary always holds
// its terminal state, and the error reports why it failed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Summary, error) {
	mode, ok := tender.ParseMode(string(req.Mode))
	if !ok {
		return Summary{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
	req.Mode = mode
	req.Category = strings.TrimSpace(req.Category)
	if req.Mode != tender.ModeDiscover && req.Category == "" {
		return Summary{}, ErrCategoryRequired
	}
	if req.Category != "" {
		if _, err := o.routes.Category(req.Category); err != nil {
			return Summary{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	unlock, err := o.store.Lock(ctx, lockKey(req))
	if err != nil {
		return Summary{}, err
	}
	defer unlock()

	started := o.clock.Now()
	if n, err := o.store.FailStaleRuns(ctx, req.Category, started, o.cfg.StaleRunMessage); err != nil {
		return Summary{}, fmt.Errorf("recover stale runs: %w", err)
	} else if n > 0 {
		o.logger.Warn("closed stale runs", zap.String("category", req.Category), zap.Int("runs", n))
	}

	runID, err := o.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	run := tender.Run{
		ID:        runID,
		Mode:      req.Mode,
		Category:  req.Category,
		MaxPages:  req.MaxPages,
		Status:    tender.RunRunning,
		StartedAt: started,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return Summary{}, fmt.Errorf("open run: %w", err)
	}

	logger := o.logger.With(
		zap.String("run_id", run.ID),
		zap.String("mode", string(run.Mode)),
		zap.String("category", run.Category),
	)
	logger.Info("run started", zap.Int("max_pages", req.MaxPages))

	spanCtx, span := telemetry.StartSpan(ctx, "pipeline.run",
		attribute.String("run_id", run.ID),
		attribute.String("mode", string(run.Mode)),
		attribute.String("category", run.Category),
	)

	summary := Summary{Run: run}
	var runErr error
	if req.Mode == tender.ModeDiscover {
		runErr = o.discover(spanCtx, req, &summary, logger)
	} else {
		runErr = o.scrape(spanCtx, req, &summary, logger)
	}
	if runErr == nil {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("run canceled: %w", err)
		}
	}
	telemetry.EndSpan(span, runErr)

	return o.finish(ctx, summary, runErr, logger)
}

func (o *Orchestrator) finish(ctx context.Context, summary Summary, runErr error, logger *zap.Logger) (Summary, error) {
	// Bookkeeping must land even when the run was canceled.
	closeCtx := context.WithoutCancel(ctx)

	done := o.clock.Now()
	run := summary.Run
	run.CompletedAt = &done
	run.Status = tender.RunCompleted
	if runErr != nil {
		run.Status = tender.RunFailed
		run.ErrorMessage = runErr.Error()
	}
	summary.Run = run

	if err := o.store.FinishRun(closeCtx, run); err != nil {
		logger.Error("failed to close run", zap.Error(err))
		return summary, errors.Join(runErr, fmt.Errorf("close run: %w", err))
	}
	metrics.ObserveRun(string(run.Mode), string(run.Status), done.Sub(run.StartedAt))

	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Int("found", run.Counts.Found),
		zap.Int("new", run.Counts.New),
		zap.Int("updated", run.Counts.Updated),
		zap.Int("unchanged", run.Counts.Unchanged),
		zap.Int("errors", run.Counts.Errors),
		zap.Int("pages", summary.Pages),
		zap.Duration("duration", done.Sub(run.StartedAt)),
	}
	if runErr != nil {
		logger.Error("run failed", append(fields, zap.Error(runErr))...)
		telemetry.CaptureError(closeCtx, runErr, map[string]string{
			"run_id":   run.ID,
			"mode":     string(run.Mode),
			"category": run.Category,
		})
	} else {
		logger.Info("run completed", fields...)
	}

	if o.publisher != nil {
		if id, err := o.publisher.Publish(closeCtx, o.cfg.Topic, summary); err != nil {
			logger.Warn("failed to publish run summary", zap.Error(err))
		} else {
			logger.Debug("run summary published", zap.String("message_id", id))
		}
	}
	return summary, runErr
}

func (o *Orchestrator) discover(ctx context.Context, req Request, summary *Summary, logger *zap.Logger) error {
	names := o.discoveryTargets(req.Category)
	report, err := o.prober.Probe(ctx, names...)
	if err != nil && !errors.Is(err, discovery.ErrAllUnresolved) {
		return err
	}
	for _, c := range report.Categories {
		summary.Run.Counts.Found += len(c.Candidates)
	}
	summary.Report = &report
	if o.cfg.ReportPath != "" {
		if werr := discovery.WriteReport(o.cfg.ReportPath, report); werr != nil {
			return werr
		}
		logger.Info("discovery report written", zap.String("path", o.cfg.ReportPath))
	}
	if unresolved := report.Unresolved(); len(unresolved) > 0 {
		logger.Warn("categories unresolved", zap.Strings("categories", unresolved))
	}
	// A lone unresolved category is only reported; a sweep with none resolved fails.
	if err != nil && len(names) < 2 {
		return nil
	}
	return err
}

// discoveryTargets probes the named category, or every category still lacking
// a canonical route. When all are routed, all are re-probed.
func (o *Orchestrator) discoveryTargets(category string) []string {
	if category != "" {
		return []string{category}
	}
	var out []string
	for _, c := range o.routes.Categories {
		if c.Canonical == "" {
			out = append(out, c.Name)
		}
	}
	if len(out) == 0 {
		return o.routes.Names()
	}
	return out
}

func (o *Orchestrator) scrape(ctx context.Context, req Request, summary *Summary, logger *zap.Logger) error {
	maxPages := o.maxPages(req)
	summary.Run.MaxPages = maxPages

	pool := newDocumentPool(o.documents, o.embedder, o.cfg.DocumentConcurrency, o.cfg.QueueDepth, logger)
	pool.start(ctx)
	o.resume(ctx, pool, logger)

	var (
		counts = &summary.Run.Counts
		quiet  int
		fatal  error
	)
	handle := func(ctx context.Context, page crawler.Page) (bool, error) {
		changed := 0
		for _, res := range page.Results {
			if err := ctx.Err(); err != nil {
				return false, fmt.Errorf("run canceled: %w", err)
			}
			counts.Found++
			if res.Err != nil {
				counts.Errors++
				logger.Warn("tender resolution failed",
					zap.String("tender_id", res.Entry.TenderID),
					zap.Int("page", page.Number),
					zap.Error(res.Err),
				)
				continue
			}
			stored, outcome, err := o.gate.Process(ctx, res.Record)
			if err != nil {
				if perr := o.store.Ping(ctx); perr != nil {
					fatal = fmt.Errorf("storage unreachable: %w", errors.Join(err, perr))
					return false, fatal
				}
				counts.Errors++
				logger.Warn("gate failed", zap.String("tender_id", res.Record.TenderID), zap.Error(err))
				continue
			}
			outcome.Apply(counts)
			if !outcome.Changed() {
				continue
			}
			changed++
			docs, err := o.documents.Register(ctx, stored)
			if err != nil {
				logger.Warn("document registration failed", zap.String("tender_id", stored.TenderID), zap.Error(err))
				continue
			}
			// An updated tender fetches its known links again so revised files
			// at the same URL are picked up.
			refresh := outcome == gate.OutcomeUpdated
			for _, doc := range docs {
				if err := pool.submit(ctx, doc, refresh); err != nil {
					return false, fmt.Errorf("run canceled: %w", err)
				}
			}
		}
		logger.Debug("page processed",
			zap.Int("page", page.Number),
			zap.Int("entries", len(page.Results)),
			zap.Int("changed", changed),
		)
		if req.Mode != tender.ModeIncremental {
			return true, nil
		}
		if changed > 0 {
			quiet = 0
			return true, nil
		}
		quiet++
		if quiet >= o.cfg.IncrementalStopAfter {
			logger.Info("incremental window exhausted", zap.Int("page", page.Number), zap.Int("quiet_pages", quiet))
			return false, nil
		}
		return true, nil
	}

	pages, crawlErr := o.crawler.Crawl(ctx, req.Category, maxPages, handle)
	summary.Pages = pages
	o.settle(ctx, pool, summary, logger)

	switch {
	case fatal != nil:
		return fatal
	case crawlErr == nil:
		return nil
	case ctx.Err() != nil:
		return crawlErr
	case errors.Is(crawlErr, tender.ErrNoRoutes), pages == 0:
		return crawlErr
	default:
		// A listing page failed after earlier pages were handled; the pass ends
		// early but what was gathered stands.
		counts.Errors++
		logger.Warn("listing pagination interrupted", zap.Int("pages", pages), zap.Error(crawlErr))
		return nil
	}
}

// resume queues documents that earlier runs left pending.
func (o *Orchestrator) resume(ctx context.Context, pool *documentPool, logger *zap.Logger) {
	for _, status := range []tender.ExtractionStatus{tender.DocPending, tender.DocDownloaded} {
		docs, err := o.store.ListDocumentsByStatus(ctx, status, o.cfg.ResumeLimit)
		if err != nil {
			logger.Warn("failed to list unfinished documents", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		for _, doc := range docs {
			if err := pool.submit(ctx, doc, false); err != nil {
				return
			}
		}
		if len(docs) > 0 {
			logger.Info("resuming unfinished documents", zap.String("status", string(status)), zap.Int("documents", len(docs)))
		}
	}
}

// settle drains the document pool, then retries parked OCR work and deferred
// embeddings while the run is still live.
func (o *Orchestrator) settle(ctx context.Context, pool *documentPool, summary *Summary, logger *zap.Logger) {
	stats := pool.wait()
	summary.Documents = stats.statuses
	summary.Chunks = stats.chunks
	summary.Deferred = stats.deferred
	summary.Truncated = stats.truncated
	summary.Refreshed = stats.refreshed
	if ctx.Err() != nil {
		return
	}

	if n, err := o.documents.RetryOCR(ctx, o.cfg.OCRRetryLimit); err != nil {
		logger.Warn("ocr retry pass failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("ocr retry pass recovered documents", zap.Int("documents", n))
		summary.Documents[tender.DocSuccess] += n
	}

	if o.embedder == nil {
		return
	}
	completed, failed, err := o.embedder.DrainDeferred(ctx, o.cfg.DrainLimit)
	summary.Recovered = completed
	if err != nil {
		logger.Warn("deferred embedding drain failed", zap.Error(err))
		return
	}
	if completed > 0 || failed > 0 {
		logger.Info("deferred embeddings drained", zap.Int("completed", completed), zap.Int("failed", failed))
	}
}

func (o *Orchestrator) maxPages(req Request) int {
	if req.MaxPages > 0 {
		return req.MaxPages
	}
	if req.Mode == tender.ModeFull {
		return o.cfg.MaxPagesFull
	}
	return o.cfg.MaxPagesIncremental
}

func lockKey(req Request) string {
	if req.Category == "" {
		return "*"
	}
	return req.Category
}
