package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/dispatcher"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/queue/memory"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

type poolStats struct {
	statuses  map[tender.ExtractionStatus]int
	chunks    int
	deferred  int
	truncated int
	// refreshed counts settled documents whose bytes changed; unchanged those
	// that hashed to their stored content.
	refreshed int
	unchanged int
}

// docJob is one unit of document work. refresh marks a settled document of an
// updated tender that must be fetched again.
type docJob struct {
	doc     tender.Document
	refresh bool
}

// documentPool extracts and embeds documents on a bounded set of workers while
// the crawl keeps paginating.
type documentPool struct {
	documents Documents
	embedder  Embedder
	disp      *dispatcher.Dispatcher[docJob]
	logger    *zap.Logger

	mu    sync.Mutex
	seen  map[string]struct{}
	stats poolStats
	done  chan struct{}
}

func newDocumentPool(documents Documents, embedder Embedder, concurrency, depth int, logger *zap.Logger) *documentPool {
	p := &documentPool{
		documents: documents,
		embedder:  embedder,
		logger:    logger,
		seen:      make(map[string]struct{}),
		stats:     poolStats{statuses: make(map[tender.ExtractionStatus]int)},
		done:      make(chan struct{}),
	}
	p.disp = dispatcher.New[docJob](memory.NewQueue[docJob](depth), concurrency, p.handle, logger)
	return p
}

func (p *documentPool) start(ctx context.Context) {
	go func() {
		defer close(p.done)
		p.disp.Run(ctx)
	}()
}

// submit queues doc once per run. Settled documents are skipped unless refresh
// is set.
func (p *documentPool) submit(ctx context.Context, doc tender.Document, refresh bool) error {
	if doc.Status.Terminal() && !refresh {
		return nil
	}
	p.mu.Lock()
	if _, ok := p.seen[doc.DocID]; ok {
		p.mu.Unlock()
		return nil
	}
	p.seen[doc.DocID] = struct{}{}
	p.mu.Unlock()
	return p.disp.Enqueue(ctx, docJob{doc: doc, refresh: refresh && doc.Status.Terminal()})
}

// wait stops intake and blocks until queued documents are handled.
func (p *documentPool) wait() poolStats {
	p.disp.Close()
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *documentPool) handle(ctx context.Context, job docJob) error {
	doc := job.doc
	var (
		out tender.Document
		err error
	)
	if job.refresh {
		var changed bool
		out, changed, err = p.documents.Refresh(ctx, doc)
		if err != nil {
			return fmt.Errorf("refresh document %s: %w", doc.DocID, err)
		}
		p.mu.Lock()
		if changed {
			p.stats.refreshed++
		} else {
			p.stats.unchanged++
		}
		p.mu.Unlock()
		if !changed {
			return nil
		}
	} else {
		out, err = p.documents.Process(ctx, doc)
		if err != nil {
			return fmt.Errorf("process document %s: %w", doc.DocID, err)
		}
	}
	p.mu.Lock()
	p.stats.statuses[out.Status]++
	p.mu.Unlock()
	if p.embedder == nil {
		return nil
	}
	if out.Status != tender.DocSuccess {
		if job.refresh && doc.Status == tender.DocSuccess {
			// The new version no longer extracts; its old chunks must go.
			if err := p.embedder.Retract(ctx, doc.DocID); err != nil {
				return fmt.Errorf("retract document %s: %w", doc.DocID, err)
			}
		}
		return nil
	}
	res, err := p.embedder.EmbedDocument(ctx, out)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.DocID, err)
	}
	p.mu.Lock()
	p.stats.chunks += res.Chunks
	if res.Deferred {
		p.stats.deferred++
	}
	if res.Truncated {
		p.stats.truncated++
	}
	p.mu.Unlock()
	return nil
}
