package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan indexer.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	if err := q.Enqueue(context.Background(), indexer.QueueItem{RunID: "run-1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.RunID != "run-1" {
			t.Fatalf("expected run-1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return run")
	}
}

func TestQueueSkipsPendingDuplicates(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, indexer.QueueItem{RunID: "run-1"}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 pending run, got %d", q.Len())
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	// Once dequeued the same run may be queued again.
	if err := q.Enqueue(ctx, indexer.QueueItem{RunID: "run-1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected re-enqueued run, got %d", q.Len())
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), indexer.QueueItem{RunID: "primed"}); err != nil {
		t.Fatalf("failed to prime queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, indexer.QueueItem{RunID: "blocked"}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
	// A canceled enqueue must not leave the run marked pending.
	if _, err := qEnqueue.Dequeue(context.Background()); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if err := qEnqueue.Enqueue(context.Background(), indexer.QueueItem{RunID: "blocked"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if qEnqueue.Len() != 1 {
		t.Fatalf("expected blocked run to be queued, got %d", qEnqueue.Len())
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	if err := q.Enqueue(context.Background(), indexer.QueueItem{RunID: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}
