package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock, fixedClock{t: testNow}), mock
}

func sampleRecord() tender.Record {
	bidders := 3
	return tender.Record{
		TenderID:           "12345/2026",
		Title:              "Набавка на канцелариски материјали",
		Category:           "goods",
		Status:             tender.StatusActive,
		SourceCategory:     "active",
		ProcuringEntity:    "Општина Карпош",
		EstimatedValue:     "1.200.000,00",
		Currency:           "MKD",
		DetailURL:          "https://e-nabavki.gov.mk/PublicAccess/home.aspx#/dossie/abc",
		BidderCount:        &bidders,
		DocumentURLs:       []string{"https://e-nabavki.gov.mk/File/DownloadPublicFile?fileId=1"},
		ContentFingerprint: "f00d",
		FirstSeenAt:        testNow,
		LastModifiedAt:     testNow,
		ScrapeCount:        1,
		Raw:                map[string]string{"Број на оглас": "12345/2026"},
	}
}

func TestInsertTenderWritesAllColumns(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectExec("INSERT INTO tenders").
		WithArgs(
			rec.TenderID, rec.Title, rec.Category, rec.Status, rec.SourceCategory, rec.ProcuringEntity,
			rec.EstimatedValue, rec.Currency, rec.PublicationDate, rec.DeadlineDate, rec.ProcedureType, rec.DetailURL,
			rec.BidderCount, rec.DeclaredBidderCount, rec.DocumentURLs, []string{},
			[]byte(`{"Број на оглас":"12345/2026"}`), rec.ContentFingerprint,
			rec.FirstSeenAt, rec.LastModifiedAt, rec.ScrapeCount,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertTender(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTenderMissingRowIsNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE tenders SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateTender(context.Background(), sampleRecord())
	require.ErrorIs(t, err, tender.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenderMapsNoRows(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM tenders WHERE tender_id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetTender(context.Background(), "missing")
	require.ErrorIs(t, err, tender.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenderDecodesRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	rec := sampleRecord()

	rows := pgxmock.NewRows([]string{
		"tender_id", "title", "category", "status", "source_category", "procuring_entity",
		"estimated_value", "currency", "publication_date", "deadline_date", "procedure_type", "detail_url",
		"bidder_count", "declared_bidder_count", "document_urls", "flags", "raw", "content_fingerprint",
		"first_seen_at", "last_modified_at", "scrape_count",
	}).AddRow(
		rec.TenderID, rec.Title, rec.Category, rec.Status, rec.SourceCategory, rec.ProcuringEntity,
		rec.EstimatedValue, rec.Currency, rec.PublicationDate, rec.DeadlineDate, rec.ProcedureType, rec.DetailURL,
		rec.BidderCount, rec.DeclaredBidderCount, rec.DocumentURLs, []string{},
		[]byte(`{"Број на оглас":"12345/2026"}`), rec.ContentFingerprint,
		rec.FirstSeenAt, rec.LastModifiedAt, rec.ScrapeCount,
	)
	mock.ExpectQuery("SELECT .* FROM tenders WHERE tender_id").
		WithArgs(rec.TenderID).
		WillReturnRows(rows)

	got, err := store.GetTender(context.Background(), rec.TenderID)
	require.NoError(t, err)
	require.Equal(t, rec, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunRequiresTerminalStatus(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	err := store.FinishRun(context.Background(), tender.Run{ID: "run-1", Status: tender.RunRunning})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunClosesOpenRunOnce(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	done := testNow.Add(time.Minute)
	run := tender.Run{
		ID:          "run-1",
		Status:      tender.RunCompleted,
		Counts:      tender.Counts{Found: 10, New: 2, Updated: 1, Unchanged: 7},
		CompletedAt: &done,
	}

	mock.ExpectExec("UPDATE scrape_runs SET").
		WithArgs(run.ID, run.Status, 10, 2, 1, 7, 0, "", done).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scrape_runs SET").
		WithArgs(run.ID, run.Status, 10, 2, 1, 7, 0, "", done).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.FinishRun(context.Background(), run))
	require.ErrorIs(t, store.FinishRun(context.Background(), run), tender.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStaleRunsReportsRowCount(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE scrape_runs SET status = 'failed'").
		WithArgs("goods", testNow, "stale").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := store.FailStaleRuns(context.Background(), "goods", testNow, "stale")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterDocumentRejectsContentOutsideSuccess(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	text := "извадок"

	_, err := store.RegisterDocument(context.Background(), tender.Document{
		DocID: "doc-1", TenderID: "12345/2026", ContentText: &text,
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDocumentMissingRowIsNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE documents SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateDocument(context.Background(), tender.Document{
		DocID: "doc-1", TenderID: "12345/2026", Status: tender.DocDownloadFailed,
	})
	require.ErrorIs(t, err, tender.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceChunksRunsInOneTransaction(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	chunks := []tender.Chunk{
		{ChunkID: "c0", DocID: "doc-1", Ordinal: 0, Text: "прв дел", Embedding: []float32{0.1, 0.2}, ModelID: "m", CreatedAt: testNow},
		{ChunkID: "c1", DocID: "doc-1", Ordinal: 1, Text: "втор дел", Embedding: []float32{0.3, 0.4}, ModelID: "m", CreatedAt: testNow},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM chunks").WithArgs("doc-1").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	for _, c := range chunks {
		mock.ExpectExec("INSERT INTO chunks").
			WithArgs(c.ChunkID, c.DocID, c.Ordinal, c.Text, pgvector.NewVector(c.Embedding), c.ModelID, c.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.ReplaceChunks(context.Background(), "doc-1", chunks))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceChunksRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	chunks := []tender.Chunk{{ChunkID: "c0", DocID: "doc-1", Embedding: []float32{1}, CreatedAt: testNow}}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM chunks").WithArgs("doc-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO chunks").WillReturnError(errors.New("dimension mismatch"))
	mock.ExpectRollback()

	err := store.ReplaceChunks(context.Background(), "doc-1", chunks)
	require.ErrorContains(t, err, "dimension mismatch")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceChunksRejectsForeignChunk(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	err := store.ReplaceChunks(context.Background(), "doc-1", []tender.Chunk{{ChunkID: "c0", DocID: "doc-2"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchRejectsEmptyVector(t *testing.T) {
	t.Parallel()
	store, _ := newMockStore(t)

	_, err := store.Search(context.Background(), nil, 5)
	require.Error(t, err)
}

func TestFailEmbeddingPassesRetryCeiling(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO embedding_jobs").
		WithArgs("doc-1", "rate limited", testNow, 5).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.FailEmbedding(context.Background(), "doc-1", "rate limited", 5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockIsExclusivePerCategory(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT pg_try_advisory_xact_lock").
		WithArgs("nabavki-run:goods").
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))

	unlock, err := store.Lock(context.Background(), "goods")
	require.NoError(t, err)

	_, err = store.Lock(context.Background(), "goods")
	require.ErrorIs(t, err, tender.ErrRunInProgress)

	mock.ExpectRollback()
	unlock()
	unlock()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockHeldByAnotherProcess(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT pg_try_advisory_xact_lock").
		WithArgs("nabavki-run:services").
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(false))
	mock.ExpectRollback()

	_, err := store.Lock(context.Background(), "services")
	require.ErrorIs(t, err, tender.ErrRunInProgress)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClampLimit(t *testing.T) {
	t.Parallel()
	require.Equal(t, 100, clampLimit(0))
	require.Equal(t, 100, clampLimit(5000))
	require.Equal(t, 25, clampLimit(25))
}
