// Package queue is the durable delivery queue. Tasks are persisted before
// Enqueue returns and handed to consumers by claiming them from storage,
// so pending work survives a restart. No ordering is guaranteed.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lmsbridge/internal/adapters/repository"
	"github.com/okian/lmsbridge/internal/domain/model"
	"github.com/okian/lmsbridge/pkg/logger"
	"github.com/okian/lmsbridge/pkg/metrics"
)

const (
	defaultLease        = time.Minute
	defaultPollInterval = time.Second
)

// Queue provides durable enqueue and blocking, claim-on-demand dequeue.
type Queue interface {
	// Enqueue persists p as a pending task and returns its id.
	Enqueue(ctx context.Context, p model.Payload) (uuid.UUID, error)

	// Dequeue claims the next due task, waiting until one is available.
	// It returns ErrClosed once the queue is closed and ctx.Err() when ctx
	// ends; nothing is claimed in either case.
	Dequeue(ctx context.Context) (model.Task, error)

	// Len returns the number of pending and in-flight tasks.
	Len(ctx context.Context) int

	Close() error
	IsClosed() bool
}

// DurableQueue implements Queue on a repository.TaskStore.
type DurableQueue struct {
	store        repository.TaskStore
	lease        time.Duration
	pollInterval time.Duration
	logger       logger.Logger

	mu     sync.Mutex
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// NewDurableQueue creates a queue over store.
func NewDurableQueue(store repository.TaskStore, opts ...Option) *DurableQueue {
	q := &DurableQueue{
		store:        store,
		lease:        defaultLease,
		pollInterval: defaultPollInterval,
		logger:       logger.Get().Named("queue"),
		wake:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *DurableQueue) Enqueue(ctx context.Context, p model.Payload) (uuid.UUID, error) {
	if q.IsClosed() {
		metrics.RecordEnqueueError()
		return uuid.Nil, ErrClosed
	}
	task, err := q.store.Enqueue(ctx, p)
	if err != nil {
		metrics.RecordEnqueueError()
		return uuid.Nil, err
	}
	metrics.RecordTaskEnqueued()
	q.signal()
	return task.ID, nil
}

// Dequeue blocks until a task is due and claims it for the caller. Nothing
// is claimed ahead of a call, so a lease starts only when a consumer is
// ready to process the task.
func (q *DurableQueue) Dequeue(ctx context.Context) (model.Task, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		if q.IsClosed() {
			return model.Task{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return model.Task{}, err
		}

		wake := q.waiter()
		task, err := q.store.Claim(ctx, q.lease)
		switch {
		case err == nil:
			return task, nil
		case errors.Is(err, repository.ErrNoTask):
		case errors.Is(err, repository.ErrStoreClosed):
			return model.Task{}, ErrClosed
		default:
			if ctx.Err() != nil {
				return model.Task{}, ctx.Err()
			}
			q.logger.Error(ctx, "claim failed", logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return model.Task{}, ctx.Err()
		case <-q.done:
			return model.Task{}, ErrClosed
		case <-wake:
		case <-ticker.C:
		}
	}
}

// Requeue moves a failed task back to pending and wakes idle consumers.
func (q *DurableQueue) Requeue(ctx context.Context, id uuid.UUID) error {
	if err := q.store.Requeue(ctx, id); err != nil {
		return err
	}
	q.signal()
	return nil
}

func (q *DurableQueue) Len(ctx context.Context) int {
	counts, err := q.store.Counts(ctx)
	if err != nil {
		q.logger.Warn(ctx, "queue depth unavailable", logger.Error(err))
		return 0
	}
	for status, n := range counts {
		metrics.UpdateQueueDepth(string(status), n)
	}
	return counts[model.TaskPending] + counts[model.TaskInFlight]
}

// Close stops all consumers. Stored tasks are left for the next start.
func (q *DurableQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

func (q *DurableQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// waiter returns the channel closed by the next signal.
func (q *DurableQueue) waiter() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wake
}

// signal wakes every idle consumer.
func (q *DurableQueue) signal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	close(q.wake)
	q.wake = make(chan struct{})
}

var _ Queue = (*DurableQueue)(nil)
