package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

// Task states.
const (
	TaskPending  TaskStatus = "pending"
	TaskInFlight TaskStatus = "in_flight"
	TaskDone     TaskStatus = "done"
	TaskFailed   TaskStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInFlight, TaskDone, TaskFailed:
		return true
	}
	return false
}

// Task is one payload awaiting delivery.
type Task struct {
	ID        uuid.UUID  `json:"id"`
	Payload   Payload    `json:"payload"`
	Status    TaskStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	NextRunAt time.Time  `json:"next_run_at"`
	LastError string     `json:"last_error,omitempty"`
}

// SystemActor tags failure records raised by the bridge itself.
const SystemActor = "system"

// FailureRecord is one append-only audit entry.
type FailureRecord struct {
	ID           int64     `json:"id"`
	Message      string    `json:"message"`
	OccurredAt   time.Time `json:"occurred_at"`
	ContextActor string    `json:"context_actor"`
}
