// Package embedding splits extracted document text into chunks, embeds them,
// and swaps them into the vector store.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/id/uuid"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/metrics"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// Store is the persistence the generator needs.
type Store interface {
	tender.ChunkStore
	tender.EmbeddingJobStore
	GetDocument(ctx context.Context, docID string) (tender.Document, error)
}

// GeneratorConfig tunes batching and deferral.
type GeneratorConfig struct {
	Chunk           ChunkConfig
	BatchSize       int
	MaxDeferRetries int
}

// Result summarizes one document. Truncated is set when the chunk cap left
// the tail of the text unembedded.
type Result struct {
	DocID     string
	Chunks    int
	Deferred  bool
	Truncated bool
}

// Generator embeds documents that reached success.
type Generator struct {
	embedder Embedder
	store    Store
	clock    tender.Clock
	cfg      GeneratorConfig
	logger   *zap.Logger
}

// New constructs a Generator.
func New(embedder Embedder, store Store, clock tender.Clock, cfg GeneratorConfig, logger *zap.Logger) *Generator {
	if cfg.Chunk.MaxChars <= 0 {
		cfg.Chunk = DefaultChunkConfig()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxDeferRetries <= 0 {
		cfg.MaxDeferRetries = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{embedder: embedder, store: store, clock: clock, cfg: cfg, logger: logger}
}

// EmbedDocument re-embeds doc, replacing its chunk set. When the model keeps
// failing, the document is deferred and its previous chunks stay in place.
func (g *Generator) EmbedDocument(ctx context.Context, doc tender.Document) (Result, error) {
	res := Result{DocID: doc.DocID}
	if doc.Status != tender.DocSuccess || doc.ContentText == nil {
		return res, nil
	}
	chunks, truncated, err := g.build(ctx, doc)
	res.Truncated = truncated
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("embed document %s: %w", doc.DocID, ctx.Err())
		}
		g.logger.Warn("embedding deferred", zap.String("doc_id", doc.DocID), zap.Error(err))
		if derr := g.store.DeferEmbedding(ctx, doc.DocID, err.Error()); derr != nil {
			return res, fmt.Errorf("defer embedding %s: %w", doc.DocID, derr)
		}
		res.Deferred = true
		return res, nil
	}
	if err := g.replace(ctx, doc.DocID, chunks); err != nil {
		return res, err
	}
	res.Chunks = len(chunks)
	return res, nil
}

// Retract removes the chunk set of a document whose content no longer
// extracts, and closes any deferred job for it.
func (g *Generator) Retract(ctx context.Context, docID string) error {
	if err := g.replace(ctx, docID, nil); err != nil {
		return err
	}
	g.logger.Info("chunks retracted", zap.String("doc_id", docID))
	return nil
}

// DrainDeferred retries up to limit deferred documents.
func (g *Generator) DrainDeferred(ctx context.Context, limit int) (completed, failed int, err error) {
	jobs, err := g.store.PendingEmbeddings(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending embeddings: %w", err)
	}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return completed, failed, fmt.Errorf("drain deferred embeddings: %w", err)
		}
		logger := g.logger.With(zap.String("doc_id", job.DocID), zap.Int("retries", job.Retries))
		doc, err := g.store.GetDocument(ctx, job.DocID)
		if errors.Is(err, tender.ErrNotFound) || (err == nil && (doc.Status != tender.DocSuccess || doc.ContentText == nil)) {
			// Nothing left to embed.
			if err := g.store.CompleteEmbedding(ctx, job.DocID); err != nil {
				return completed, failed, fmt.Errorf("complete embedding %s: %w", job.DocID, err)
			}
			continue
		}
		if err != nil {
			return completed, failed, fmt.Errorf("load document %s: %w", job.DocID, err)
		}

		chunks, _, err := g.build(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				return completed, failed, fmt.Errorf("drain deferred embeddings: %w", ctx.Err())
			}
			logger.Warn("deferred embedding failed again", zap.Error(err))
			if ferr := g.store.FailEmbedding(ctx, job.DocID, err.Error(), g.cfg.MaxDeferRetries); ferr != nil {
				return completed, failed, fmt.Errorf("fail embedding %s: %w", job.DocID, ferr)
			}
			failed++
			continue
		}
		if err := g.replace(ctx, doc.DocID, chunks); err != nil {
			return completed, failed, err
		}
		logger.Info("deferred embedding completed", zap.Int("chunks", len(chunks)))
		completed++
	}
	return completed, failed, nil
}

func (g *Generator) build(ctx context.Context, doc tender.Document) ([]tender.Chunk, bool, error) {
	texts, truncated := SplitCapped(*doc.ContentText, g.cfg.Chunk)
	if truncated {
		g.logger.Warn("chunk cap reached; document tail not embedded",
			zap.String("doc_id", doc.DocID),
			zap.Int("max_chunks", g.cfg.Chunk.MaxChunks),
			zap.Int("text_runes", utf8.RuneCountInString(*doc.ContentText)),
		)
	}
	now := g.clock.Now()
	model := g.embedder.ModelID()
	chunks := make([]tender.Chunk, 0, len(texts))
	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := min(start+g.cfg.BatchSize, len(texts))
		began := time.Now()
		vectors, err := g.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			metrics.ObserveEmbeddingBatch("deferred", end-start)
			return nil, truncated, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			metrics.ObserveEmbeddingBatch("deferred", end-start)
			return nil, truncated, fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(vectors))
		}
		metrics.ObserveEmbeddingBatch("ok", end-start)
		g.logger.Debug("embedding batch done",
			zap.String("doc_id", doc.DocID),
			zap.Int("batch", end-start),
			zap.Duration("elapsed", time.Since(began)),
		)
		for i, v := range vectors {
			ordinal := start + i
			chunks = append(chunks, tender.Chunk{
				ChunkID:   uuid.ChunkID(doc.DocID, ordinal),
				DocID:     doc.DocID,
				Ordinal:   ordinal,
				Text:      texts[ordinal],
				Embedding: v,
				ModelID:   model,
				CreatedAt: now,
			})
		}
	}
	return chunks, truncated, nil
}

func (g *Generator) replace(ctx context.Context, docID string, chunks []tender.Chunk) error {
	if err := g.store.ReplaceChunks(ctx, docID, chunks); err != nil {
		return fmt.Errorf("replace chunks %s: %w", docID, err)
	}
	if err := g.store.CompleteEmbedding(ctx, docID); err != nil {
		return fmt.Errorf("complete embedding %s: %w", docID, err)
	}
	return nil
}
