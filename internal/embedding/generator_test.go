package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/storage/memory"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeEmbedder returns a vector derived from each text's length.
type fakeEmbedder struct {
	mu      sync.Mutex
	fail    error
	batches []int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.batches = append(f.batches, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) ModelID() string { return "fake-3" }

func successDoc(t *testing.T, store *memory.Store, id, text string) tender.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := store.RegisterDocument(ctx, tender.Document{DocID: id, TenderID: "1/2026", SourceURL: "https://portal.example/" + id})
	require.NoError(t, err)
	doc.Status = tender.DocSuccess
	doc.ContentText = &text
	doc.Method = tender.MethodText
	require.NoError(t, store.UpdateDocument(ctx, doc))
	return doc
}

func newTestGenerator(store *memory.Store, emb Embedder) *Generator {
	return New(emb, store, fixedClock{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}, GeneratorConfig{
		Chunk:           ChunkConfig{MaxChars: 200, MinChars: 50, Overlap: 40},
		BatchSize:       3,
		MaxDeferRetries: 2,
	}, zap.NewNop())
}

func TestEmbedDocumentReplacesChunkSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	emb := &fakeEmbedder{}
	gen := newTestGenerator(store, emb)

	long := longText(30)
	doc := successDoc(t, store, "doc-1", long)
	res, err := gen.EmbedDocument(ctx, doc)
	require.NoError(t, err)
	want := len(Split(long, gen.cfg.Chunk))
	assert.Equal(t, want, res.Chunks)
	assert.False(t, res.Deferred)

	chunks, err := store.ListChunks(ctx, doc.DocID)
	require.NoError(t, err)
	require.Len(t, chunks, want)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, "fake-3", c.ModelID)
		assert.Len(t, c.Embedding, 3)
	}
	for _, n := range emb.batches {
		assert.LessOrEqual(t, n, 3)
	}

	// A shorter revision leaves no stale chunks behind.
	short := "Изменета документација за набавка."
	doc.ContentText = &short
	res, err = gen.EmbedDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	chunks, err = store.ListChunks(ctx, doc.DocID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, short, chunks[0].Text)
	assert.Equal(t, 2, store.Replacements())
}

func TestEmbedDocumentReportsChunkCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	gen := New(&fakeEmbedder{}, store, fixedClock{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}, GeneratorConfig{
		Chunk: ChunkConfig{MaxChars: 200, MinChars: 50, Overlap: 40, MaxChunks: 2},
	}, zap.NewNop())

	doc := successDoc(t, store, "doc-1", longText(30))
	res, err := gen.EmbedDocument(ctx, doc)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 2, res.Chunks)

	uncapped := newTestGenerator(store, &fakeEmbedder{})
	res, err = uncapped.EmbedDocument(ctx, doc)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Greater(t, res.Chunks, 2)
}

func TestEmbedDocumentIsDeterministic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	gen := newTestGenerator(store, &fakeEmbedder{})
	doc := successDoc(t, store, "doc-1", longText(20))

	_, err := gen.EmbedDocument(ctx, doc)
	require.NoError(t, err)
	first, err := store.ListChunks(ctx, doc.DocID)
	require.NoError(t, err)
	_, err = gen.EmbedDocument(ctx, doc)
	require.NoError(t, err)
	second, err := store.ListChunks(ctx, doc.DocID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEmbedDocumentSkipsUnextracted(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	emb := &fakeEmbedder{}
	gen := newTestGenerator(store, emb)

	res, err := gen.EmbedDocument(context.Background(), tender.Document{DocID: "d", Status: tender.DocOCRRequired})
	require.NoError(t, err)
	assert.Zero(t, res.Chunks)
	assert.Empty(t, emb.batches)
}

func TestEmbedDocumentDefersOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	emb := &fakeEmbedder{}
	gen := newTestGenerator(store, emb)
	doc := successDoc(t, store, "doc-1", longText(10))

	_, err := gen.EmbedDocument(ctx, doc)
	require.NoError(t, err)
	before, err := store.ListChunks(ctx, doc.DocID)
	require.NoError(t, err)

	emb.fail = errors.New("model overloaded")
	revised := strings.Repeat("нова содржина ", 40)
	doc.ContentText = &revised
	res, err := gen.EmbedDocument(ctx, doc)
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	after, err := store.ListChunks(ctx, doc.DocID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	job, ok := store.EmbeddingJob(doc.DocID)
	require.True(t, ok)
	assert.Equal(t, tender.EmbeddingPending, job.Status)
	assert.Contains(t, job.LastError, "model overloaded")
}

func TestDrainDeferred(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	emb := &fakeEmbedder{fail: errors.New("timeout")}
	gen := newTestGenerator(store, emb)
	doc := successDoc(t, store, "doc-1", longText(10))

	res, err := gen.EmbedDocument(ctx, doc)
	require.NoError(t, err)
	require.True(t, res.Deferred)

	completed, failed, err := gen.DrainDeferred(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)
	assert.Equal(t, 1, failed)
	job, _ := store.EmbeddingJob(doc.DocID)
	assert.Equal(t, 1, job.Retries)
	assert.Equal(t, tender.EmbeddingPending, job.Status)

	emb.fail = nil
	completed, failed, err = gen.DrainDeferred(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, failed)
	job, _ = store.EmbeddingJob(doc.DocID)
	assert.Equal(t, tender.EmbeddingCompleted, job.Status)

	chunks, err := store.ListChunks(ctx, doc.DocID)
	require.NoError(t, err)
	assert.Len(t, chunks, len(Split(longText(10), gen.cfg.Chunk)))
}

func TestDrainDeferredAbandonsAfterMaxRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	gen := newTestGenerator(store, &fakeEmbedder{fail: errors.New("bad request")})
	doc := successDoc(t, store, "doc-1", "Краток текст за вградување.")
	_, err := gen.EmbedDocument(ctx, doc)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _, err := gen.DrainDeferred(ctx, 10)
		require.NoError(t, err)
	}
	job, _ := store.EmbeddingJob(doc.DocID)
	assert.Equal(t, tender.EmbeddingFailed, job.Status)

	pending, err := store.PendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainDeferredClosesJobsWithoutContent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	gen := newTestGenerator(store, &fakeEmbedder{})
	require.NoError(t, store.DeferEmbedding(ctx, "gone", "model down"))

	completed, failed, err := gen.DrainDeferred(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, completed+failed)
	job, _ := store.EmbeddingJob("gone")
	assert.Equal(t, tender.EmbeddingCompleted, job.Status)
}
