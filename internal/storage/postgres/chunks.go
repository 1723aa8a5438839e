package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// ReplaceChunks deletes the chunk set of docID and inserts chunks in one
// transaction, so readers see either the old or the new set.
func (s *Store) ReplaceChunks(ctx context.Context, docID string, chunks []tender.Chunk) error {
	for _, c := range chunks {
		if c.DocID != docID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", c.ChunkID, c.DocID, docID)
		}
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		for _, c := range chunks {
			if _, err := tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, doc_id, ordinal, text, embedding, model_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ChunkID, c.DocID, c.Ordinal, c.Text, pgvector.NewVector(c.Embedding), c.ModelID, c.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.Ordinal, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace chunks for %s: %w", docID, err)
	}
	return nil
}

// ListChunks returns the chunks of docID by ordinal.
func (s *Store) ListChunks(ctx context.Context, docID string) ([]tender.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, doc_id, ordinal, text, embedding, model_id, created_at
FROM chunks WHERE doc_id = $1 ORDER BY ordinal`, docID)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", docID, err)
	}
	defer rows.Close()

	out := []tender.Chunk{}
	for rows.Next() {
		var (
			c   tender.Chunk
			vec pgvector.Vector
		)
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Ordinal, &c.Text, &vec, &c.ModelID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Embedding = vec.Slice()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// Search returns the k chunks nearest to vector by cosine distance.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]tender.SearchHit, error) {
	if len(vector) == 0 {
		return nil, errors.New("search vector is empty")
	}
	if k <= 0 {
		k = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, doc_id, ordinal, text, model_id, created_at,
	1.0 / (1.0 + (embedding <=> $1)) AS score
FROM chunks
ORDER BY embedding <=> $1, chunk_id
LIMIT $2`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var hits []tender.SearchHit
	for rows.Next() {
		var h tender.SearchHit
		if err := rows.Scan(&h.ChunkID, &h.DocID, &h.Ordinal, &h.Text, &h.ModelID, &h.CreatedAt, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}
