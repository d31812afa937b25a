// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory crawl.Queue backed by a channel.
type Queue struct {
	ch      chan crawl.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding up to capacity pending jobs.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan crawl.QueueItem, capacity),
	}
}

// Enqueue pushes a job or returns when the context ends. The read lock
// holds Close off until in-flight sends finish, so an enqueue can never
// hit a closed channel.
func (q *Queue) Enqueue(ctx context.Context, item crawl.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawl.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawl.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return crawl.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Close shuts the queue; it is safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
