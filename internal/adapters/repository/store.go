// Package repository persists queued delivery tasks and the failure audit log.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lmsbridge/internal/domain/model"
)

// TaskStore is the durable storage behind the delivery queue.
type TaskStore interface {
	// Enqueue persists a pending task. The task is durable once Enqueue returns.
	Enqueue(ctx context.Context, p model.Payload) (model.Task, error)

	// Claim marks one due task in flight until now+lease and increments its
	// attempts. Tasks whose lease expired are claimable again, so a crashed
	// worker's task is retried. Returns ErrNoTask when nothing is due.
	Claim(ctx context.Context, lease time.Duration) (model.Task, error)

	// Complete removes a delivered task.
	Complete(ctx context.Context, id uuid.UUID) error

	// Retry returns a task to pending, runnable at next.
	Retry(ctx context.Context, id uuid.UUID, lastErr string, next time.Time) error

	// Fail retains a task as failed for manual inspection.
	Fail(ctx context.Context, id uuid.UUID, lastErr string) error

	// Requeue moves a failed task back to pending with a fresh attempt budget.
	Requeue(ctx context.Context, id uuid.UUID) error

	Get(ctx context.Context, id uuid.UUID) (model.Task, error)

	// List returns up to limit tasks, optionally filtered by status, oldest first.
	List(ctx context.Context, status model.TaskStatus, limit int) ([]model.Task, error)

	// Counts returns the number of stored tasks per status.
	Counts(ctx context.Context) (map[model.TaskStatus]int, error)
}

// FailureLog is the append-only audit log of delivery failures.
type FailureLog interface {
	AppendFailure(ctx context.Context, rec model.FailureRecord) (int64, error)

	// Failures returns up to limit records, newest first.
	Failures(ctx context.Context, limit int) ([]model.FailureRecord, error)
}
