// Package store contains the database layer for genplane.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queue defines the interface for job queue operations.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics.
type Queue interface {
	// Enqueue adds a new waiting job. The job is durable once tx commits.
	// Jobs are never deduplicated by content.
	Enqueue(ctx context.Context, tx DBTransaction, job *Job) error

	// GetJob returns a job by its ID, or ErrNotFound.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// DequeueBatch claims up to 'limit' available jobs atomically.
	// Returns nil slice if queue is empty.
	DequeueBatch(ctx context.Context, limit int) ([]ClaimedJob, error)

	// UpdateProgress records the latest progress of an active job.
	UpdateProgress(ctx context.Context, jobID, leaseID uuid.UUID, progress Progress) error

	// Complete marks the job completed with its return value.
	Complete(ctx context.Context, tx DBTransaction, jobID, leaseID uuid.UUID, result ReturnValue) error

	// Fail marks the job failed with a human readable reason.
	Fail(ctx context.Context, tx DBTransaction, jobID, leaseID uuid.UUID, reason string) error

	// ExtendLease pushes the visibility timeout of an active job (heartbeat).
	ExtendLease(ctx context.Context, jobID, leaseID uuid.UUID, visibleAfter time.Time) error

	// ReapStalled fails active jobs whose lease expired after the last allowed
	// attempt, together with their generations, and returns them.
	ReapStalled(ctx context.Context) ([]Job, error)

	// Count tracks count of jobs not yet finished
	Count(ctx context.Context) (int64, error)
}
