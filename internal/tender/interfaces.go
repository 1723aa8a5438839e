package tender

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a lookup has no matching row.
	ErrNotFound = errors.New("not found")
	// ErrAuthRequired signals a login wall or credential challenge.
	ErrAuthRequired = errors.New("authentication required")
	// ErrEmptyBody signals a response without usable content.
	ErrEmptyBody = errors.New("empty response body")
	// ErrRenderTimeout signals that a page never settled within the navigation budget.
	ErrRenderTimeout = errors.New("render timed out")
	// ErrRunInProgress is returned when another run holds the category lock.
	ErrRunInProgress = errors.New("run already in progress for category")
	// ErrNoRoutes is returned when a category has no canonical route configured.
	ErrNoRoutes = errors.New("no canonical route configured")
)

// Page is a rendered portal page.
type Page struct {
	URL        string
	StatusCode int
	HTML       []byte
	Duration   time.Duration
}

// Renderer loads a URL in a JS-capable session and returns the settled DOM.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
}

// Download is the raw response for a linked document.
type Download struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Downloader fetches document bytes.
type Downloader interface {
	Download(ctx context.Context, url string) (Download, error)
}

// TenderStore persists tender records.
type TenderStore interface {
	GetTender(ctx context.Context, tenderID string) (Record, error)
	InsertTender(ctx context.Context, rec Record) error
	UpdateTender(ctx context.Context, rec Record) error
	ListTenders(ctx context.Context, category string, limit int) ([]Record, error)
}

// RunStore persists ScrapeRun bookkeeping.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	// FailStaleRuns closes runs left in running state by a crashed process.
	FailStaleRuns(ctx context.Context, category string, at time.Time, reason string) (int, error)
}

// DocumentStore persists document records.
type DocumentStore interface {
	// RegisterDocument inserts the document if its doc_id is unknown and returns the stored row.
	RegisterDocument(ctx context.Context, doc Document) (Document, error)
	UpdateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, docID string) (Document, error)
	ListDocuments(ctx context.Context, tenderID string) ([]Document, error)
	ListDocumentsByStatus(ctx context.Context, status ExtractionStatus, limit int) ([]Document, error)
}

// ChunkStore is the vector store read/write surface.
type ChunkStore interface {
	// ReplaceChunks atomically swaps the chunk set of a document.
	ReplaceChunks(ctx context.Context, docID string, chunks []Chunk) error
	ListChunks(ctx context.Context, docID string) ([]Chunk, error)
	Search(ctx context.Context, vector []float32, k int) ([]SearchHit, error)
}

// ChunkReader is the read-only view handed to retrieval collaborators.
type ChunkReader interface {
	ListChunks(ctx context.Context, docID string) ([]Chunk, error)
	Search(ctx context.Context, vector []float32, k int) ([]SearchHit, error)
}

// EmbeddingJobStore tracks documents whose embedding was deferred.
type EmbeddingJobStore interface {
	DeferEmbedding(ctx context.Context, docID string, reason string) error
	PendingEmbeddings(ctx context.Context, limit int) ([]EmbeddingJob, error)
	CompleteEmbedding(ctx context.Context, docID string) error
	FailEmbedding(ctx context.Context, docID string, reason string, maxRetries int) error
}

// Locker serializes runs per category.
type Locker interface {
	Lock(ctx context.Context, category string) (unlock func(), err error)
}

// Store aggregates every persistence concern of the pipeline.
type Store interface {
	TenderStore
	RunStore
	DocumentStore
	ChunkStore
	EmbeddingJobStore
	Locker
	Ping(ctx context.Context) error
}

// BlobStore archives raw document bytes.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher emits run notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers for runs and chunks.
type IDGenerator interface {
	NewID() (string, error)
}
