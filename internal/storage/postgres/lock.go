package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// Lock takes the per-category run lock without blocking. The lock is a
// transaction-scoped advisory lock held on a dedicated connection until the
// returned func is called, so it is also released if the process dies.
func (s *Store) Lock(ctx context.Context, category string) (func(), error) {
	s.mu.Lock()
	if _, held := s.held[category]; held {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", tender.ErrRunInProgress, category)
	}
	s.held[category] = struct{}{}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.held, category)
		s.mu.Unlock()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("begin lock tx: %w", err)
	}
	var acquired bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, "nabavki-run:"+category).Scan(&acquired); err != nil {
		_ = tx.Rollback(context.Background())
		release()
		return nil, fmt.Errorf("take advisory lock: %w", err)
	}
	if !acquired {
		_ = tx.Rollback(context.Background())
		release()
		return nil, fmt.Errorf("%w: %s", tender.ErrRunInProgress, category)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = tx.Rollback(context.Background())
			release()
		})
	}, nil
}
