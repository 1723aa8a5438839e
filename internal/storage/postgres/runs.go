package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// CreateRun opens a run row.
func (s *Store) CreateRun(ctx context.Context, run tender.Run) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO scrape_runs (run_id, mode, category, max_pages, status, found, new, updated, unchanged, errors, error_message, started_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		run.ID, run.Mode, run.Category, run.MaxPages, run.Status,
		run.Counts.Found, run.Counts.New, run.Counts.Updated, run.Counts.Unchanged, run.Counts.Errors,
		run.ErrorMessage, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun closes an open run with a terminal status and its counts.
func (s *Store) FinishRun(ctx context.Context, run tender.Run) error {
	if !run.Status.Terminal() || run.CompletedAt == nil {
		return fmt.Errorf("finish run %s: terminal status and completed_at required", run.ID)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_runs SET
	status = $2, found = $3, new = $4, updated = $5, unchanged = $6, errors = $7,
	error_message = $8, completed_at = $9
WHERE run_id = $1 AND status = 'running'`,
		run.ID, run.Status, run.Counts.Found, run.Counts.New, run.Counts.Updated,
		run.Counts.Unchanged, run.Counts.Errors, run.ErrorMessage, *run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open run %s: %w", run.ID, tender.ErrNotFound)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (tender.Run, error) {
	var run tender.Run
	err := s.pool.QueryRow(ctx, `
SELECT run_id, mode, category, max_pages, status, found, new, updated, unchanged, errors,
	error_message, started_at, completed_at
FROM scrape_runs WHERE run_id = $1`, runID).Scan(
		&run.ID, &run.Mode, &run.Category, &run.MaxPages, &run.Status,
		&run.Counts.Found, &run.Counts.New, &run.Counts.Updated, &run.Counts.Unchanged, &run.Counts.Errors,
		&run.ErrorMessage, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return tender.Run{}, notFound(err, "run", runID)
	}
	return run, nil
}

// FailStaleRuns closes every running row of category left behind by a crashed process.
func (s *Store) FailStaleRuns(ctx context.Context, category string, at time.Time, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_runs SET status = 'failed', error_message = $3, completed_at = $2
WHERE category = $1 AND status = 'running'`, category, at, reason)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs for %s: %w", category, err)
	}
	return int(tag.RowsAffected()), nil
}
