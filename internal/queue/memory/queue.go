// Package memory provides the in-process run queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. A run id
// already waiting in the queue is not enqueued twice.
type Queue struct {
	ch   chan indexer.QueueItem
	done chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:      make(chan indexer.QueueItem, capacity),
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}
}

// Enqueue pushes a run into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item indexer.QueueItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if _, dup := q.pending[item.RunID]; dup {
		q.mu.Unlock()
		return nil
	}
	q.pending[item.RunID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		q.release(item.RunID)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		q.release(item.RunID)
		return ErrClosed
	}
}

// Dequeue pops the next run, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (indexer.QueueItem, error) {
	select {
	case <-ctx.Done():
		return indexer.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return indexer.QueueItem{}, ErrClosed
	case item := <-q.ch:
		q.release(item.RunID)
		return item, nil
	}
}

// Len reports how many runs are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue; waiting and future calls return ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) release(runID string) {
	q.mu.Lock()
	delete(q.pending, runID)
	q.mu.Unlock()
}
