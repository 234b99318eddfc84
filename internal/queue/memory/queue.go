// Package memory provides a bounded in-process job queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

// Queue is a bounded in-memory queue with context-aware operations. It backs
// the hand-off from the scheduler loop to the runner pool.
type Queue struct {
	ch      chan studio.JobRequest
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan studio.JobRequest, capacity),
	}
}

// Enqueue pushes a job request into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, req studio.JobRequest) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next job request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (studio.JobRequest, error) {
	select {
	case <-ctx.Done():
		return studio.JobRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return studio.JobRequest{}, errors.New("queue closed")
		}
		return req, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
