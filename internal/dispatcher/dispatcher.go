// Package dispatcher fans queued work out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/queue/memory"
)

// Queue is the source a Dispatcher drains. Dequeue must return memory.ErrClosed
// once the queue is closed and empty.
type Queue[T any] interface {
	Enqueue(ctx context.Context, item T) error
	Dequeue(ctx context.Context) (T, error)
	Close()
}

// Handler processes a single item. Handlers own their error reporting; the
// dispatcher only logs what they return.
type Handler[T any] func(ctx context.Context, item T) error

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher[T any] struct {
	queue       Queue[T]
	handler     Handler[T]
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher running concurrency workers.
func New[T any](queue Queue[T], concurrency int, handler Handler[T], logger *zap.Logger) *Dispatcher[T] {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher[T]{
		queue:       queue,
		handler:     handler,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run starts all workers and blocks until the queue is closed and drained, or
// the context finishes.
func (d *Dispatcher[T]) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher[T]) work(ctx context.Context, id int) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, memory.ErrClosed) {
				d.logger.Error("queue dequeue failed", zap.Int("worker", id), zap.Error(err))
				continue
			}
			return
		}
		if err := d.handler(ctx, item); err != nil {
			d.logger.Warn("work item failed", zap.Int("worker", id), zap.Error(err))
		}
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher[T]) Enqueue(ctx context.Context, item T) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Close stops intake; Run returns once buffered items are handled.
func (d *Dispatcher[T]) Close() {
	d.queue.Close()
}
