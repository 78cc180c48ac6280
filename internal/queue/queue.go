package queue

import (
	"context"
	"errors"
	"time"

	"github.com/asergenalkan/vercelclone/internal/domain"
)

// Job lifecycle states as seen by the queue. These track the transient work
// item, not the deployment record.
const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

var (
	// ErrJobNotFound indicates the job is unknown or its record expired.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrNotCancellable indicates the job already left the waiting state.
	ErrNotCancellable = errors.New("queue: job is not waiting")
)

// JobStatus is a point-in-time view of a job's progress.
type JobStatus struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Queue hands build jobs from the gateway to workers. Each job is delivered
// to exactly one worker.
type Queue interface {
	// Enqueue adds a job to the list matching its priority class.
	Enqueue(ctx context.Context, job *domain.BuildJob) error
	// Dequeue blocks until a job is available, draining production jobs
	// before any preview job. It returns the context error on cancellation.
	Dequeue(ctx context.Context) (*domain.BuildJob, error)
	// SetProgress records a worker's progress percentage for a job.
	SetProgress(ctx context.Context, jobID string, progress int) error
	// Complete marks a job finished and moves it into bounded retention.
	Complete(ctx context.Context, jobID string) error
	// Fail marks a job failed with a reason. Jobs are never retried.
	Fail(ctx context.Context, jobID string, reason string) error
	// Status returns the current state of a job.
	Status(ctx context.Context, jobID string) (*JobStatus, error)
	// Cancel removes a waiting job before any worker picks it up. It
	// returns ErrNotCancellable for jobs already active or finished.
	Cancel(ctx context.Context, jobID string) error
	Close() error
}
