package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

var _ tender.Store = (*Store)(nil)

// Store is an in-memory tender.Store. Every method copies values in and out so
// callers never share mutable state with the store.
type Store struct {
	mu        sync.RWMutex
	tenders   map[string]tender.Record
	runs      map[string]tender.Run
	docs      map[string]tender.Document
	history   map[string][]tender.ExtractionStatus
	chunks    map[string][]tender.Chunk
	jobs      map[string]tender.EmbeddingJob
	locks     map[string]struct{}
	replacing int
	now       func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		tenders: make(map[string]tender.Record),
		runs:    make(map[string]tender.Run),
		docs:    make(map[string]tender.Document),
		history: make(map[string][]tender.ExtractionStatus),
		chunks:  make(map[string][]tender.Chunk),
		jobs:    make(map[string]tender.EmbeddingJob),
		locks:   make(map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// GetTender returns the record for tenderID.
func (s *Store) GetTender(_ context.Context, tenderID string) (tender.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tenders[tenderID]
	if !ok {
		return tender.Record{}, fmt.Errorf("tender %s: %w", tenderID, tender.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

// InsertTender stores a new record.
func (s *Store) InsertTender(_ context.Context, rec tender.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tenders[rec.TenderID]; exists {
		return fmt.Errorf("tender %s already exists", rec.TenderID)
	}
	s.tenders[rec.TenderID] = cloneRecord(rec)
	return nil
}

// UpdateTender replaces an existing record. scrape_count never decreases.
func (s *Store) UpdateTender(_ context.Context, rec tender.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.tenders[rec.TenderID]
	if !ok {
		return fmt.Errorf("tender %s: %w", rec.TenderID, tender.ErrNotFound)
	}
	if rec.ScrapeCount < prev.ScrapeCount {
		rec.ScrapeCount = prev.ScrapeCount
	}
	rec.FirstSeenAt = prev.FirstSeenAt
	s.tenders[rec.TenderID] = cloneRecord(rec)
	return nil
}

// ListTenders returns records for category (all when empty), most recently
// modified first.
func (s *Store) ListTenders(_ context.Context, category string, limit int) ([]tender.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tender.Record, 0, len(s.tenders))
	for _, rec := range s.tenders {
		if category != "" && rec.SourceCategory != category && rec.Category != category {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModifiedAt.Equal(out[j].LastModifiedAt) {
			return out[i].LastModifiedAt.After(out[j].LastModifiedAt)
		}
		return out[i].TenderID < out[j].TenderID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateRun stores a new run.
func (s *Store) CreateRun(_ context.Context, run tender.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// FinishRun closes an open run. A run is closed exactly once.
func (s *Store) FinishRun(_ context.Context, run tender.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, tender.ErrNotFound)
	}
	if prev.Status.Terminal() {
		return fmt.Errorf("run %s already %s", run.ID, prev.Status)
	}
	if !run.Status.Terminal() || run.CompletedAt == nil {
		return fmt.Errorf("run %s: finish requires a terminal status and completion time", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(_ context.Context, runID string) (tender.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return tender.Run{}, fmt.Errorf("run %s: %w", runID, tender.ErrNotFound)
	}
	return run, nil
}

// FailStaleRuns closes running runs of category as failed.
func (s *Store) FailStaleRuns(_ context.Context, category string, at time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, run := range s.runs {
		if run.Category != category || run.Status != tender.RunRunning {
			continue
		}
		completed := at
		run.Status = tender.RunFailed
		run.CompletedAt = &completed
		run.ErrorMessage = reason
		s.runs[id] = run
		n++
	}
	return n, nil
}

// RegisterDocument inserts doc if unknown and returns the stored row.
func (s *Store) RegisterDocument(_ context.Context, doc tender.Document) (tender.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.docs[doc.DocID]; ok {
		return cloneDocument(existing), nil
	}
	if doc.Status == "" {
		doc.Status = tender.DocPending
	}
	if err := validateDocument(doc); err != nil {
		return tender.Document{}, err
	}
	s.docs[doc.DocID] = cloneDocument(doc)
	s.history[doc.DocID] = []tender.ExtractionStatus{doc.Status}
	return cloneDocument(doc), nil
}

// UpdateDocument replaces a document row, recording status transitions.
func (s *Store) UpdateDocument(_ context.Context, doc tender.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.docs[doc.DocID]
	if !ok {
		return fmt.Errorf("document %s: %w", doc.DocID, tender.ErrNotFound)
	}
	if err := validateDocument(doc); err != nil {
		return err
	}
	s.docs[doc.DocID] = cloneDocument(doc)
	if prev.Status != doc.Status {
		s.history[doc.DocID] = append(s.history[doc.DocID], doc.Status)
	}
	return nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(_ context.Context, docID string) (tender.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docID]
	if !ok {
		return tender.Document{}, fmt.Errorf("document %s: %w", docID, tender.ErrNotFound)
	}
	return cloneDocument(doc), nil
}

// ListDocuments returns the documents of a tender ordered by source URL.
func (s *Store) ListDocuments(_ context.Context, tenderID string) ([]tender.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tender.Document
	for _, doc := range s.docs {
		if doc.TenderID == tenderID {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceURL < out[j].SourceURL })
	return out, nil
}

// ListDocumentsByStatus returns up to limit documents in status.
func (s *Store) ListDocumentsByStatus(_ context.Context, status tender.ExtractionStatus, limit int) ([]tender.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tender.Document
	for _, doc := range s.docs {
		if doc.Status == status {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// History returns every status a document has passed through, in order.
func (s *Store) History(docID string) []tender.ExtractionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]tender.ExtractionStatus(nil), s.history[docID]...)
}

// ReplaceChunks swaps a document's chunk set under the write lock, so readers
// see either the old or the new set.
func (s *Store) ReplaceChunks(_ context.Context, docID string, chunks []tender.Chunk) error {
	cp := make([]tender.Chunk, len(chunks))
	for i, c := range chunks {
		if c.DocID != docID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", c.ChunkID, c.DocID, docID)
		}
		cp[i] = cloneChunk(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replacing++
	if len(cp) == 0 {
		delete(s.chunks, docID)
	} else {
		s.chunks[docID] = cp
	}
	return nil
}

// Replacements counts ReplaceChunks calls.
func (s *Store) Replacements() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replacing
}

// ListChunks returns a document's chunks by ordinal.
func (s *Store) ListChunks(_ context.Context, docID string) ([]tender.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.chunks[docID]
	out := make([]tender.Chunk, len(src))
	for i, c := range src {
		out[i] = cloneChunk(c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

// Search returns the k chunks closest to vector by cosine distance. Scores use
// the same 1/(1+distance) mapping as the Postgres store.
func (s *Store) Search(_ context.Context, vector []float32, k int) ([]tender.SearchHit, error) {
	if len(vector) == 0 {
		return nil, errors.New("search vector is empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []tender.SearchHit
	for _, set := range s.chunks {
		for _, c := range set {
			if len(c.Embedding) != len(vector) {
				continue
			}
			dist := 1 - cosine(vector, c.Embedding)
			hits = append(hits, tender.SearchHit{Chunk: cloneChunk(c), Score: 1 / (1 + dist)})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DeferEmbedding marks docID for a later embedding attempt.
func (s *Store) DeferEmbedding(_ context.Context, docID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[docID]
	job.DocID = docID
	job.Status = tender.EmbeddingPending
	job.LastError = reason
	job.UpdatedAt = s.now()
	s.jobs[docID] = job
	return nil
}

// PendingEmbeddings returns up to limit pending jobs, oldest first.
func (s *Store) PendingEmbeddings(_ context.Context, limit int) ([]tender.EmbeddingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tender.EmbeddingJob
	for _, job := range s.jobs {
		if job.Status == tender.EmbeddingPending {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].DocID < out[j].DocID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CompleteEmbedding closes a deferred job.
func (s *Store) CompleteEmbedding(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[docID]
	if !ok {
		return nil
	}
	job.Status = tender.EmbeddingCompleted
	job.LastError = ""
	job.UpdatedAt = s.now()
	s.jobs[docID] = job
	return nil
}

// FailEmbedding records a failed retry; the job is abandoned after maxRetries.
func (s *Store) FailEmbedding(_ context.Context, docID string, reason string, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[docID]
	job.DocID = docID
	job.Retries++
	job.LastError = reason
	job.UpdatedAt = s.now()
	job.Status = tender.EmbeddingPending
	if maxRetries > 0 && job.Retries >= maxRetries {
		job.Status = tender.EmbeddingFailed
	}
	s.jobs[docID] = job
	return nil
}

// EmbeddingJob returns the job for docID.
func (s *Store) EmbeddingJob(docID string) (tender.EmbeddingJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[docID]
	return job, ok
}

// Lock takes the per-category run lock without blocking.
func (s *Store) Lock(_ context.Context, category string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[category]; held {
		return nil, fmt.Errorf("%w: %s", tender.ErrRunInProgress, category)
	}
	s.locks[category] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, category)
			s.mu.Unlock()
		})
	}, nil
}

func validateDocument(doc tender.Document) error {
	if doc.DocID == "" || doc.TenderID == "" {
		return errors.New("document requires doc_id and tender_id")
	}
	if (doc.Status == tender.DocSuccess) != (doc.ContentText != nil) {
		return fmt.Errorf("document %s: content_text must be set iff status is success (status %s)", doc.DocID, doc.Status)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cloneRecord(r tender.Record) tender.Record {
	r.DocumentURLs = append([]string(nil), r.DocumentURLs...)
	r.Flags = append([]string(nil), r.Flags...)
	if r.BidderCount != nil {
		n := *r.BidderCount
		r.BidderCount = &n
	}
	if r.DeclaredBidderCount != nil {
		n := *r.DeclaredBidderCount
		r.DeclaredBidderCount = &n
	}
	if r.Raw != nil {
		raw := make(map[string]string, len(r.Raw))
		for k, v := range r.Raw {
			raw[k] = v
		}
		r.Raw = raw
	}
	return r
}

func cloneDocument(d tender.Document) tender.Document {
	if d.ContentText != nil {
		text := *d.ContentText
		d.ContentText = &text
	}
	if d.ExtractedAt != nil {
		at := *d.ExtractedAt
		d.ExtractedAt = &at
	}
	if d.TableRows != nil {
		rows := make([][]string, len(d.TableRows))
		for i, row := range d.TableRows {
			rows[i] = append([]string(nil), row...)
		}
		d.TableRows = rows
	}
	return d
}

func cloneChunk(c tender.Chunk) tender.Chunk {
	c.Embedding = append([]float32(nil), c.Embedding...)
	return c
}
