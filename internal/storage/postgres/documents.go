package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

const documentColumns = `doc_id, tender_id, source_url, file_type, extraction_status, content_text,
	extraction_method, extracted_at, content_hash, blob_uri, attempts, confidence, table_rows, last_error`

// RegisterDocument inserts doc when its doc_id is unknown and returns the stored row.
func (s *Store) RegisterDocument(ctx context.Context, doc tender.Document) (tender.Document, error) {
	if doc.Status == "" {
		doc.Status = tender.DocPending
	}
	if err := validateDocument(doc); err != nil {
		return tender.Document{}, err
	}
	rows, err := marshalRows(doc.TableRows)
	if err != nil {
		return tender.Document{}, err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO documents (`+documentColumns+`, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (doc_id) DO NOTHING`,
		doc.DocID, doc.TenderID, doc.SourceURL, doc.FileType, doc.Status, doc.ContentText,
		doc.Method, doc.ExtractedAt, doc.ContentHash, doc.BlobURI, doc.Attempts, doc.Confidence,
		rows, doc.LastError, s.clock.Now(),
	)
	if err != nil {
		return tender.Document{}, fmt.Errorf("register document %s: %w", doc.DocID, err)
	}
	return s.GetDocument(ctx, doc.DocID)
}

// UpdateDocument overwrites the mutable columns of a document.
func (s *Store) UpdateDocument(ctx context.Context, doc tender.Document) error {
	if err := validateDocument(doc); err != nil {
		return err
	}
	rows, err := marshalRows(doc.TableRows)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE documents SET
	file_type = $2, extraction_status = $3, content_text = $4, extraction_method = $5,
	extracted_at = $6, content_hash = $7, blob_uri = $8, attempts = $9, confidence = $10,
	table_rows = $11, last_error = $12, updated_at = $13
WHERE doc_id = $1`,
		doc.DocID, doc.FileType, doc.Status, doc.ContentText, doc.Method,
		doc.ExtractedAt, doc.ContentHash, doc.BlobURI, doc.Attempts, doc.Confidence,
		rows, doc.LastError, s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("update document %s: %w", doc.DocID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", doc.DocID, tender.ErrNotFound)
	}
	return nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, docID string) (tender.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE doc_id = $1`, docID)
	doc, err := scanDocument(row)
	if err != nil {
		return tender.Document{}, notFound(err, "document", docID)
	}
	return doc, nil
}

// ListDocuments returns the documents linked from a tender, ordered by source URL.
func (s *Store) ListDocuments(ctx context.Context, tenderID string) ([]tender.Document, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+documentColumns+` FROM documents WHERE tender_id = $1 ORDER BY source_url`, tenderID)
	if err != nil {
		return nil, fmt.Errorf("list documents for %s: %w", tenderID, err)
	}
	return collectDocuments(rows)
}

// ListDocumentsByStatus returns up to limit documents in status.
func (s *Store) ListDocumentsByStatus(ctx context.Context, status tender.ExtractionStatus, limit int) ([]tender.Document, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+documentColumns+` FROM documents WHERE extraction_status = $1 ORDER BY doc_id LIMIT $2`,
		status, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list %s documents: %w", status, err)
	}
	return collectDocuments(rows)
}

func collectDocuments(rows pgx.Rows) ([]tender.Document, error) {
	defer rows.Close()
	var out []tender.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanDocument(row pgx.Row) (tender.Document, error) {
	var (
		doc  tender.Document
		rows []byte
	)
	err := row.Scan(
		&doc.DocID, &doc.TenderID, &doc.SourceURL, &doc.FileType, &doc.Status, &doc.ContentText,
		&doc.Method, &doc.ExtractedAt, &doc.ContentHash, &doc.BlobURI, &doc.Attempts, &doc.Confidence,
		&rows, &doc.LastError,
	)
	if err != nil {
		return tender.Document{}, err
	}
	if len(rows) > 0 {
		if err := json.Unmarshal(rows, &doc.TableRows); err != nil {
			return tender.Document{}, fmt.Errorf("decode table rows: %w", err)
		}
	}
	return doc, nil
}

func marshalRows(rows [][]string) ([]byte, error) {
	if rows == nil {
		return nil, nil
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal table rows: %w", err)
	}
	return b, nil
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
