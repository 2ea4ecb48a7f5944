// Package queue is the adapter between the service and the external broker
// plus worker pool. The core only needs four verbs: enqueue a task, look up
// live state by handle, fetch the result payload, revoke by handle. Live
// state is independent of the audit store and is allowed to expire.
package queue

import (
	"context"
	"time"

	"mdconvert/internal/domain"
)

// LiveState is the broker-side view of one task.
type LiveState string

const (
	// StateUnknown means the broker has no record: the task has not been
	// picked up yet, or its result expired.
	StateUnknown   LiveState = "UNKNOWN"
	StateRunning   LiveState = "RUNNING"
	StateSucceeded LiveState = "SUCCEEDED"
	StateFailed    LiveState = "FAILED"
)

// TaskKind distinguishes single-document tasks from batches.
type TaskKind string

const (
	TaskSingle TaskKind = "single"
	TaskBatch  TaskKind = "batch"
)

// Task is the unit of work placed on the broker.
type Task struct {
	JobID       string                   `json:"job_id"`
	Kind        TaskKind                 `json:"kind"`
	UserID      string                   `json:"user_id,omitempty"`
	Documents   []domain.Document        `json:"documents"`
	Options     domain.ConversionOptions `json:"options"`
	SubmittedAt time.Time                `json:"submitted_at"`
}

// TaskResult is the payload a worker writes to the result backend.
type TaskResult struct {
	State   LiveState                 `json:"state"`
	Results []domain.ConversionResult `json:"results,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

// Queue is the producer-side contract used by the API process.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// State returns the live view for a handle; StateUnknown when the
	// broker holds no record.
	State(ctx context.Context, jobID string) (TaskResult, error)
	// Revoke requests best-effort termination. It never waits for the
	// worker to acknowledge; a task already running may still finish.
	Revoke(ctx context.Context, jobID string) error
	Close() error
}

// Consumer is the worker-side contract.
type Consumer interface {
	// Dequeue blocks up to the adapter's poll interval; (nil, nil) means
	// no task was available.
	Dequeue(ctx context.Context) (*Task, error)
	IsRevoked(ctx context.Context, jobID string) (bool, error)
	SetRunning(ctx context.Context, jobID string) error
	SetResult(ctx context.Context, jobID string, result TaskResult) error
}
