// Package queue buffers accepted assignments between the HTTP layer and the
// tally workers.
package queue

import (
	"context"
	"sync"

	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 100_000
)

// Assignment is the payload type flowing through the queue.
type Assignment = model.Assignment

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an assignment. Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, a Assignment) bool

	// Dequeue returns the receive side of the queue. It is closed by Close.
	Dequeue(ctx context.Context) <-chan Assignment

	// Len returns the current number of queued assignments.
	Len(ctx context.Context) int

	// Close stops accepting assignments; queued ones can still be drained.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Assignment
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Assignment, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	q.observe()
	return q
}

// Enqueue adds an assignment to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, a Assignment) bool { //nolint:gocritic // hugeParam: passed by value for channel semantics
	// Holding the read lock keeps Close from closing the channel mid-send.
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return false
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError("context_cancelled")
		return false
	}

	select {
	case q.items <- a:
		metrics.RecordQueueEnqueue()
		q.observe()
		return true
	default:
		metrics.RecordQueueEnqueueError("queue_full")
		return false
	}
}

// Dequeue returns the queue channel; it is closed once the queue is closed
// and drained.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan Assignment {
	return q.items
}

// Len returns the current number of queued assignments.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return q.observe()
}

// Close gracefully shuts down the queue. Calling it twice is a no-op.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) observe() int {
	size := len(q.items)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}
