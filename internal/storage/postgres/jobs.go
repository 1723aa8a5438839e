package postgres

import (
	"context"
	"fmt"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// DeferEmbedding marks docID pending. The retry count of an existing job is kept.
func (s *Store) DeferEmbedding(ctx context.Context, docID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO embedding_jobs (doc_id, status, retries, last_error, updated_at)
VALUES ($1, 'pending', 0, $2, $3)
ON CONFLICT (doc_id) DO UPDATE SET
	status = 'pending', last_error = EXCLUDED.last_error, updated_at = EXCLUDED.updated_at`,
		docID, reason, s.clock.Now())
	if err != nil {
		return fmt.Errorf("defer embedding %s: %w", docID, err)
	}
	return nil
}

// PendingEmbeddings returns up to limit pending jobs, oldest first.
func (s *Store) PendingEmbeddings(ctx context.Context, limit int) ([]tender.EmbeddingJob, error) {
	rows, err := s.pool.Query(ctx, `
SELECT doc_id, status, retries, last_error, updated_at
FROM embedding_jobs WHERE status = 'pending'
ORDER BY updated_at, doc_id
LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending embeddings: %w", err)
	}
	defer rows.Close()

	var out []tender.EmbeddingJob
	for rows.Next() {
		var job tender.EmbeddingJob
		if err := rows.Scan(&job.DocID, &job.Status, &job.Retries, &job.LastError, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding jobs: %w", err)
	}
	return out, nil
}

// CompleteEmbedding closes a job. Unknown doc ids are ignored.
func (s *Store) CompleteEmbedding(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE embedding_jobs SET status = 'completed', last_error = '', updated_at = $2
WHERE doc_id = $1`, docID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("complete embedding %s: %w", docID, err)
	}
	return nil
}

// FailEmbedding counts a failed retry and abandons the job once maxRetries is reached.
func (s *Store) FailEmbedding(ctx context.Context, docID string, reason string, maxRetries int) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO embedding_jobs (doc_id, status, retries, last_error, updated_at)
VALUES ($1, CASE WHEN $4 > 0 AND 1 >= $4 THEN 'failed' ELSE 'pending' END, 1, $2, $3)
ON CONFLICT (doc_id) DO UPDATE SET
	retries = embedding_jobs.retries + 1,
	status = CASE WHEN $4 > 0 AND embedding_jobs.retries + 1 >= $4 THEN 'failed' ELSE 'pending' END,
	last_error = EXCLUDED.last_error,
	updated_at = EXCLUDED.updated_at`,
		docID, reason, s.clock.Now(), maxRetries)
	if err != nil {
		return fmt.Errorf("fail embedding %s: %w", docID, err)
	}
	return nil
}
