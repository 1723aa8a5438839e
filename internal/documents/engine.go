// Package documents drives linked tender documents through download and
// extraction.
//
// Each document moves pending → downloaded → success | ocr_required, or settles
// at auth_required, download_failed, or skipped. content_text and the
// extraction method are only written on the transition into success.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/hash/sha256"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/id/uuid"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/metrics"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/retry"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// ocrConfidenceCeiling caps the confidence recorded for OCR output.
const ocrConfidenceCeiling = 0.8

// Config tunes the engine.
type Config struct {
	MaxAttempts     int
	DownloadTimeout time.Duration
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	MinTextChars    int
	BlobPrefix      string
}

// Engine runs the extraction state machine.
type Engine struct {
	store      tender.DocumentStore
	downloader tender.Downloader
	blobs      tender.BlobStore
	ocr        OCR
	clock      tender.Clock
	cfg        Config
	logger     *zap.Logger
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithBlobStore archives raw bytes of every downloaded document.
func WithBlobStore(b tender.BlobStore) Option {
	return func(e *Engine) { e.blobs = b }
}

// WithOCR enables the OCR pass for documents without a usable text layer.
func WithOCR(o OCR) Option {
	return func(e *Engine) { e.ocr = o }
}

// NewEngine constructs an Engine.
func NewEngine(store tender.DocumentStore, downloader tender.Downloader, clock tender.Clock, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 40
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "documents"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{store: store, downloader: downloader, clock: clock, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register creates pending rows for the document links of rec. Links already
// known keep their state.
func (e *Engine) Register(ctx context.Context, rec tender.Record) ([]tender.Document, error) {
	docs := make([]tender.Document, 0, len(rec.DocumentURLs))
	for _, link := range rec.DocumentURLs {
		doc, err := e.store.RegisterDocument(ctx, tender.Document{
			DocID:     uuid.DocumentID(rec.TenderID, link),
			TenderID:  rec.TenderID,
			SourceURL: link,
			FileType:  byExtension(extension(link)),
			Status:    tender.DocPending,
		})
		if err != nil {
			return docs, fmt.Errorf("register document %s: %w", link, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Process advances doc as far as it can go. Per-document failures are recorded
// in the document status; only store failures and cancellation are returned.
func (e *Engine) Process(ctx context.Context, doc tender.Document) (tender.Document, error) {
	if doc.Status.Terminal() {
		return doc, nil
	}
	metrics.IncDocumentWorkers()
	defer metrics.DecDocumentWorkers()

	logger := e.logger.With(zap.String("doc_id", doc.DocID), zap.String("tender_id", doc.TenderID))
	switch doc.Status {
	case tender.DocOCRRequired:
		if e.ocr == nil {
			return doc, nil
		}
		dl, err := e.download(ctx, &doc)
		if err != nil {
			if ctx.Err() != nil {
				return doc, fmt.Errorf("document %s: %w", doc.DocID, ctx.Err())
			}
			logger.Warn("ocr re-download failed", zap.Error(err))
			doc.LastError = err.Error()
			return doc, e.save(ctx, doc)
		}
		return e.recognize(ctx, doc, dl, logger)
	default:
		dl, err := e.download(ctx, &doc)
		if err != nil {
			return e.settleDownload(ctx, doc, err, logger)
		}
		doc, err = e.markDownloaded(ctx, doc, dl, logger)
		if err != nil {
			return doc, err
		}
		return e.extract(ctx, doc, dl.Body, logger)
	}
}

// Refresh downloads a settled document again after its tender changed. If the
// bytes hash to the stored content_hash nothing is written and changed is
// false. Otherwise the previous extraction is cleared and the new bytes are
// extracted. A failed download leaves a successful extraction in place.
// Documents that have not settled are handed to Process.
func (e *Engine) Refresh(ctx context.Context, doc tender.Document) (out tender.Document, changed bool, err error) {
	if !doc.Status.Terminal() {
		out, err = e.Process(ctx, doc)
		return out, true, err
	}
	metrics.IncDocumentWorkers()
	defer metrics.DecDocumentWorkers()

	logger := e.logger.With(zap.String("doc_id", doc.DocID), zap.String("tender_id", doc.TenderID))
	prev := doc
	dl, err := e.download(ctx, &doc)
	if err != nil {
		if ctx.Err() != nil {
			return prev, false, fmt.Errorf("document %s: %w", doc.DocID, ctx.Err())
		}
		if prev.Status == tender.DocSuccess {
			logger.Warn("refresh download failed; keeping previous extraction", zap.Error(err))
			return prev, false, nil
		}
		out, err = e.settleDownload(ctx, doc, err, logger)
		return out, out.Status != prev.Status, err
	}
	if prev.ContentHash != "" && sha256.Sum(dl.Body) == prev.ContentHash {
		logger.Debug("document content unchanged", zap.String("content_hash", prev.ContentHash))
		return prev, false, nil
	}

	logger.Info("document content changed", zap.String("previous_hash", prev.ContentHash), zap.String("status", string(prev.Status)))
	doc.ContentText = nil
	doc.Method = ""
	doc.ExtractedAt = nil
	doc.Confidence = 0
	doc.TableRows = nil
	doc, err = e.markDownloaded(ctx, doc, dl, logger)
	if err != nil {
		return doc, true, err
	}
	out, err = e.extract(ctx, doc, dl.Body, logger)
	return out, true, err
}

// RetryOCR re-runs recognition over documents parked in ocr_required.
func (e *Engine) RetryOCR(ctx context.Context, limit int) (int, error) {
	if e.ocr == nil {
		return 0, nil
	}
	docs, err := e.store.ListDocumentsByStatus(ctx, tender.DocOCRRequired, limit)
	if err != nil {
		return 0, fmt.Errorf("list ocr_required documents: %w", err)
	}
	recovered := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return recovered, fmt.Errorf("ocr retry canceled: %w", err)
		}
		out, err := e.Process(ctx, doc)
		if err != nil {
			return recovered, err
		}
		if out.Status == tender.DocSuccess {
			recovered++
		}
	}
	return recovered, nil
}

func (e *Engine) download(ctx context.Context, doc *tender.Document) (tender.Download, error) {
	var (
		dl       tender.Download
		timeouts int
	)
	policy := retry.NewExponential(e.cfg.MaxAttempts, e.cfg.RetryBaseDelay, e.cfg.RetryMaxDelay)
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		doc.Attempts++
		actx, cancel := context.WithTimeout(ctx, e.cfg.DownloadTimeout)
		defer cancel()
		d, err := e.downloader.Download(actx, doc.SourceURL)
		if err == nil {
			dl = d
			return nil
		}
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		if errors.Is(err, tender.ErrAuthRequired) || errors.Is(err, tender.ErrEmptyBody) {
			return retry.Permanent(err)
		}
		if isTimeout(err) || errors.Is(actx.Err(), context.DeadlineExceeded) {
			// A timeout earns one retry, then the download is abandoned.
			timeouts++
			if timeouts > 1 {
				return retry.Permanent(fmt.Errorf("download timed out twice: %w", err))
			}
		}
		e.logger.Debug("document download attempt failed",
			zap.String("doc_id", doc.DocID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	})
	return dl, err
}

func (e *Engine) settleDownload(ctx context.Context, doc tender.Document, err error, logger *zap.Logger) (tender.Document, error) {
	if ctx.Err() != nil {
		return doc, fmt.Errorf("document %s: %w", doc.DocID, ctx.Err())
	}
	switch {
	case errors.Is(err, tender.ErrAuthRequired):
		doc.Status = tender.DocAuthRequired
	case errors.Is(err, tender.ErrEmptyBody):
		doc.Status = tender.DocSkipped
	default:
		doc.Status = tender.DocDownloadFailed
	}
	doc.LastError = err.Error()
	logger.Warn("document download settled", zap.String("status", string(doc.Status)), zap.Int("attempts", doc.Attempts), zap.Error(err))
	metrics.ObserveDocument(string(doc.Status), "", 0)
	return doc, e.save(ctx, doc)
}

func (e *Engine) markDownloaded(ctx context.Context, doc tender.Document, dl tender.Download, logger *zap.Logger) (tender.Document, error) {
	doc.Status = tender.DocDownloaded
	doc.ContentHash = sha256.Sum(dl.Body)
	doc.FileType = DetectType(doc.SourceURL, dl.ContentType, dl.Body)
	doc.LastError = ""
	if e.blobs != nil {
		path := fmt.Sprintf("%s/%s/%s.%s", e.cfg.BlobPrefix, safeSegment(doc.TenderID), doc.DocID, doc.FileType)
		uri, err := e.blobs.PutObject(ctx, path, contentTypeFor(doc.FileType, dl.ContentType), bytes.NewReader(dl.Body))
		if err != nil {
			logger.Warn("archive raw document failed", zap.Error(err))
		} else {
			doc.BlobURI = uri
		}
	}
	metrics.ObserveDocument(string(doc.Status), "", len(dl.Body))
	return doc, e.save(ctx, doc)
}

func (e *Engine) extract(ctx context.Context, doc tender.Document, body []byte, logger *zap.Logger) (tender.Document, error) {
	ext, err := Extract(doc.FileType, body)
	if err != nil {
		doc.Status = tender.DocSkipped
		doc.LastError = err.Error()
		logger.Info("document skipped", zap.String("file_type", doc.FileType), zap.Error(err))
		metrics.ObserveDocument(string(doc.Status), "", 0)
		return doc, e.save(ctx, doc)
	}

	if ext.HasTable() {
		text := ext.Text
		if strings.TrimSpace(text) == "" {
			text = RenderTable(ext.Table)
		}
		doc.TableRows = ext.Table
		return e.succeed(ctx, doc, text, tender.MethodTable, ext.Confidence, logger)
	}
	ok, reason := Coherent(ext.Text, e.cfg.MinTextChars)
	if ok {
		return e.succeed(ctx, doc, ext.Text, tender.MethodText, 1, logger)
	}

	doc.Status = tender.DocOCRRequired
	doc.LastError = reason
	logger.Info("document needs ocr", zap.String("file_type", doc.FileType), zap.String("reason", reason))
	metrics.ObserveDocument(string(doc.Status), "", 0)
	if err := e.save(ctx, doc); err != nil {
		return doc, err
	}
	if e.ocr == nil {
		return doc, nil
	}
	return e.recognize(ctx, doc, tender.Download{Body: body}, logger)
}

func (e *Engine) recognize(ctx context.Context, doc tender.Document, dl tender.Download, logger *zap.Logger) (tender.Document, error) {
	res, err := e.ocr.Recognize(ctx, OCRInput{
		DocID:       doc.DocID,
		FileName:    doc.DocID + "." + doc.FileType,
		ContentType: contentTypeFor(doc.FileType, dl.ContentType),
		Body:        dl.Body,
	})
	if err != nil {
		if ctx.Err() != nil {
			return doc, fmt.Errorf("document %s: %w", doc.DocID, ctx.Err())
		}
		logger.Warn("ocr failed", zap.Error(err))
		doc.LastError = err.Error()
		return doc, e.save(ctx, doc)
	}
	text := Repair(strings.TrimSpace(res.Text))
	if ok, reason := Coherent(text, e.cfg.MinTextChars); !ok {
		doc.LastError = "ocr: " + reason
		return doc, e.save(ctx, doc)
	}
	conf := res.Confidence
	if conf <= 0 || conf > ocrConfidenceCeiling {
		conf = ocrConfidenceCeiling
	}
	return e.succeed(ctx, doc, text, tender.MethodOCR, conf, logger)
}

func (e *Engine) succeed(ctx context.Context, doc tender.Document, text string, method tender.ExtractionMethod, conf float64, logger *zap.Logger) (tender.Document, error) {
	now := e.clock.Now()
	doc.Status = tender.DocSuccess
	doc.ContentText = &text
	doc.Method = method
	doc.ExtractedAt = &now
	doc.Confidence = conf
	doc.LastError = ""
	logger.Info("document extracted",
		zap.String("method", string(method)),
		zap.Int("chars", len([]rune(text))),
		zap.Float64("confidence", conf),
	)
	metrics.ObserveDocument(string(doc.Status), string(method), 0)
	return doc, e.save(ctx, doc)
}

func (e *Engine) save(ctx context.Context, doc tender.Document) error {
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("update document %s: %w", doc.DocID, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func safeSegment(s string) string {
	return strings.NewReplacer("/", "-", "\\", "-", " ", "_").Replace(s)
}
