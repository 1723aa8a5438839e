package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

const tenderColumns = `tender_id, title, category, status, source_category, procuring_entity,
	estimated_value, currency, publication_date, deadline_date, procedure_type, detail_url,
	bidder_count, declared_bidder_count, document_urls, flags, raw, content_fingerprint,
	first_seen_at, last_modified_at, scrape_count`

// GetTender returns the stored record for tenderID.
func (s *Store) GetTender(ctx context.Context, tenderID string) (tender.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenderColumns+` FROM tenders WHERE tender_id = $1`, tenderID)
	rec, err := scanTender(row)
	if err != nil {
		return tender.Record{}, notFound(err, "tender", tenderID)
	}
	return rec, nil
}

// InsertTender writes a first-seen record.
func (s *Store) InsertTender(ctx context.Context, rec tender.Record) error {
	raw, err := marshalRaw(rec.Raw)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO tenders (`+tenderColumns+`) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)`,
		rec.TenderID, rec.Title, rec.Category, rec.Status, rec.SourceCategory, rec.ProcuringEntity,
		rec.EstimatedValue, rec.Currency, rec.PublicationDate, rec.DeadlineDate, rec.ProcedureType, rec.DetailURL,
		rec.BidderCount, rec.DeclaredBidderCount, nonNil(rec.DocumentURLs), nonNil(rec.Flags), raw, rec.ContentFingerprint,
		rec.FirstSeenAt, rec.LastModifiedAt, rec.ScrapeCount,
	)
	if err != nil {
		return fmt.Errorf("insert tender %s: %w", rec.TenderID, err)
	}
	return nil
}

// UpdateTender overwrites a changed record. first_seen_at is never touched and
// scrape_count never decreases.
func (s *Store) UpdateTender(ctx context.Context, rec tender.Record) error {
	raw, err := marshalRaw(rec.Raw)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE tenders SET
	title = $2, category = $3, status = $4, source_category = $5, procuring_entity = $6,
	estimated_value = $7, currency = $8, publication_date = $9, deadline_date = $10,
	procedure_type = $11, detail_url = $12, bidder_count = $13, declared_bidder_count = $14,
	document_urls = $15, flags = $16, raw = $17, content_fingerprint = $18,
	last_modified_at = $19, scrape_count = GREATEST(scrape_count, $20)
WHERE tender_id = $1`,
		rec.TenderID, rec.Title, rec.Category, rec.Status, rec.SourceCategory, rec.ProcuringEntity,
		rec.EstimatedValue, rec.Currency, rec.PublicationDate, rec.DeadlineDate,
		rec.ProcedureType, rec.DetailURL, rec.BidderCount, rec.DeclaredBidderCount,
		nonNil(rec.DocumentURLs), nonNil(rec.Flags), raw, rec.ContentFingerprint,
		rec.LastModifiedAt, rec.ScrapeCount,
	)
	if err != nil {
		return fmt.Errorf("update tender %s: %w", rec.TenderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tender %s: %w", rec.TenderID, tender.ErrNotFound)
	}
	return nil
}

// ListTenders returns records newest-modified first, optionally filtered by category.
func (s *Store) ListTenders(ctx context.Context, category string, limit int) ([]tender.Record, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+tenderColumns+` FROM tenders
WHERE ($1 = '' OR category = $1 OR source_category = $1)
ORDER BY last_modified_at DESC, tender_id
LIMIT $2`, category, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list tenders: %w", err)
	}
	defer rows.Close()

	var out []tender.Record
	for rows.Next() {
		rec, err := scanTender(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tender: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tenders: %w", err)
	}
	return out, nil
}

func scanTender(row pgx.Row) (tender.Record, error) {
	var (
		rec tender.Record
		raw []byte
	)
	err := row.Scan(
		&rec.TenderID, &rec.Title, &rec.Category, &rec.Status, &rec.SourceCategory, &rec.ProcuringEntity,
		&rec.EstimatedValue, &rec.Currency, &rec.PublicationDate, &rec.DeadlineDate, &rec.ProcedureType, &rec.DetailURL,
		&rec.BidderCount, &rec.DeclaredBidderCount, &rec.DocumentURLs, &rec.Flags, &raw, &rec.ContentFingerprint,
		&rec.FirstSeenAt, &rec.LastModifiedAt, &rec.ScrapeCount,
	)
	if err != nil {
		return tender.Record{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Raw); err != nil {
			return tender.Record{}, fmt.Errorf("decode raw fields: %w", err)
		}
		if len(rec.Raw) == 0 {
			rec.Raw = nil
		}
	}
	if len(rec.DocumentURLs) == 0 {
		rec.DocumentURLs = nil
	}
	if len(rec.Flags) == 0 {
		rec.Flags = nil
	}
	return rec, nil
}

func marshalRaw(raw map[string]string) ([]byte, error) {
	if raw == nil {
		raw = map[string]string{}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal raw fields: %w", err)
	}
	return b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
