// Package queue holds submitted jobs until a worker picks them up.
//
// A subject can be in flight at most once: a submission for a subject that
// is queued or still running is rejected until the worker releases it.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/pkg/metrics"
)

const defaultQueueCapacity = 64

// Request is the payload flowing through the queue.
type Request = model.JobRequest

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a request. It fails with ErrDuplicate, ErrFull or ErrClosed.
	Enqueue(ctx context.Context, r Request) error

	// Dequeue returns a channel that receives requests as they become
	// available. The channel is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Request

	// Release marks a subject's job as finished so it can be submitted again.
	Release(subjectID string)

	// InFlight reports whether a subject is queued or running.
	InFlight(subjectID string) bool

	// Len returns the current number of queued requests.
	Len(ctx context.Context) int

	// Close stops accepting requests. Queued requests are still delivered.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	requests chan Request
	capacity int

	mu       sync.RWMutex
	closed   bool
	inFlight map[string]struct{}
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		inFlight: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(q)
	}
	q.requests = make(chan Request, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)
	return q
}

// Enqueue adds a request to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, r Request) error {
	if r.SubjectID == "" {
		q.reject("invalid")
		return ErrInvalidRequest
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.reject("closed")
		return ErrClosed
	}
	if _, busy := q.inFlight[r.SubjectID]; busy {
		q.reject("duplicate")
		return fmt.Errorf("%w: %s", ErrDuplicate, r.SubjectID)
	}
	if err := ctx.Err(); err != nil {
		q.reject("context_cancelled")
		return err
	}

	select {
	case q.requests <- r:
		q.inFlight[r.SubjectID] = struct{}{}
		metrics.RecordQueueEnqueue()
		q.updateSize()
		return nil
	default:
		q.reject("queue_full")
		return ErrFull
	}
}

func (q *InMemoryQueue) reject(reason string) {
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent("queue", reason)
}

// Dequeue returns a channel that will receive requests as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Request {
	out := make(chan Request)
	go func() {
		defer close(out)
		for r := range q.requests {
			select {
			case out <- r:
				metrics.RecordQueueDequeue()
				q.updateSize()
			case <-ctx.Done():
				// Not delivered; let the subject be submitted again.
				q.Release(r.SubjectID)
				return
			}
		}
	}()
	return out
}

// Release frees a subject for resubmission.
func (q *InMemoryQueue) Release(subjectID string) {
	q.mu.Lock()
	delete(q.inFlight, subjectID)
	q.mu.Unlock()
}

// InFlight reports whether subjectID is queued or running.
func (q *InMemoryQueue) InFlight(subjectID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.inFlight[subjectID]
	return ok
}

// Len returns the current number of queued requests.
func (q *InMemoryQueue) Len(context.Context) int {
	return q.updateSize()
}

func (q *InMemoryQueue) updateSize() int {
	size := len(q.requests)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.requests)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
