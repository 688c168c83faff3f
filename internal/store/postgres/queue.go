package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"genplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const jobColumns = `id, type, generation_id, payload, state, progress, return_value, failed_reason,
	attempts, lease_id, visible_after, created_at, started_at, finished_at`

func scanJob(row rowScanner) (*store.Job, error) {
	var (
		job         store.Job
		payload     []byte
		progress    []byte
		returnValue []byte
		reason      sql.NullString
		lease       uuid.NullUUID
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.Type, &job.GenerationID, &payload, &job.State, &progress, &returnValue, &reason,
		&job.Attempts, &lease, &job.VisibleAfter, &job.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &job.Progress); err != nil {
			return nil, fmt.Errorf("decode job progress: %w", err)
		}
	}
	if len(returnValue) > 0 {
		var rv store.ReturnValue
		if err := json.Unmarshal(returnValue, &rv); err != nil {
			return nil, fmt.Errorf("decode job return value: %w", err)
		}
		job.ReturnValue = &rv
	}
	if reason.Valid {
		job.FailedReason = &reason.String
	}
	if lease.Valid {
		id := lease.UUID
		job.LeaseID = &id
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return &job, nil
}

// Enqueue inserts a waiting job. Pass the transaction that created the
// generation so both rows commit together.
func (s *Store) Enqueue(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.State == "" {
		job.State = store.JobStateWaiting
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.VisibleAfter.IsZero() {
		job.VisibleAfter = job.CreatedAt
	}
	if job.Progress.Stage == "" {
		job.Progress = store.Progress{Stage: "queued", Percentage: 0}
	}

	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("encode job progress: %w", err)
	}

	query := `
		INSERT INTO jobs (id, type, generation_id, payload, state, progress, visible_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.getExecutor(tx).ExecContext(ctx, query,
		job.ID,
		job.Type,
		job.GenerationID,
		string(payload),
		job.State,
		string(progress),
		job.VisibleAfter,
		job.CreatedAt,
	)
	if err != nil {
		return store.StorageError(fmt.Sprintf("enqueue job for generation %s", job.GenerationID), err)
	}
	return nil
}

// GetJob returns a job by its ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE id = $1"

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.StorageError("get job", err)
	}
	return job, nil
}

// DequeueBatch claims up to 'limit' available jobs atomically using SELECT ... FOR UPDATE SKIP LOCKED.
// Waiting jobs and active jobs whose lease expired are both claimable, the
// latter only while they have attempts left.
// Returns nil slice if no jobs are available.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]store.ClaimedJob, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.StorageError("begin dequeue", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE visible_after <= NOW()
		  AND (state = 'waiting' OR (state = 'active' AND attempts < $2))
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`

	rows, err := tx.QueryContext(ctx, selectQuery, limit, s.maxAttempts)
	if err != nil {
		return nil, store.StorageError("batch dequeue query", err)
	}

	var jobs []store.ClaimedJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, store.StorageError("batch dequeue scan", err)
		}
		jobs = append(jobs, store.ClaimedJob{Job: *job})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, store.StorageError("batch dequeue rows", err)
	}
	rows.Close()

	// Empty queue
	if len(jobs) == 0 {
		return nil, nil
	}

	visibleAfter := time.Now().UTC().Add(s.visibilityTimeout)
	for i := range jobs {
		lease := uuid.New()
		var startedAt time.Time
		err := tx.QueryRowContext(ctx, `
			UPDATE jobs
			SET state = $1, lease_id = $2, attempts = attempts + 1, visible_after = $3,
				started_at = COALESCE(started_at, NOW())
			WHERE id = $4
			RETURNING started_at
		`, store.JobStateActive, lease, visibleAfter, jobs[i].ID).Scan(&startedAt)
		if err != nil {
			return nil, store.StorageError("claim job", err)
		}

		jobs[i].LeaseID = lease
		jobs[i].Job.LeaseID = &lease
		jobs[i].State = store.JobStateActive
		jobs[i].Attempts++
		jobs[i].VisibleAfter = visibleAfter
		jobs[i].StartedAt = &startedAt
	}

	if err := tx.Commit(); err != nil {
		return nil, store.StorageError("commit dequeue", err)
	}
	return jobs, nil
}

// UpdateProgress stores the latest progress of an active job.
func (s *Store) UpdateProgress(ctx context.Context, jobID, leaseID uuid.UUID, progress store.Progress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode job progress: %w", err)
	}
	return s.leasedUpdate(ctx, nil, "update job progress", `
		UPDATE jobs SET progress = $3
		WHERE id = $1 AND lease_id = $2 AND state = 'active'
	`, jobID, leaseID, string(data))
}

// Complete marks the job completed and releases its lease.
func (s *Store) Complete(ctx context.Context, tx store.DBTransaction, jobID, leaseID uuid.UUID, result store.ReturnValue) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode job return value: %w", err)
	}
	done, _ := json.Marshal(store.Progress{Stage: "completed", Percentage: 100})

	return s.leasedUpdate(ctx, tx, "complete job", `
		UPDATE jobs
		SET state = $3, return_value = $4, progress = $5, lease_id = NULL, finished_at = NOW()
		WHERE id = $1 AND lease_id = $2 AND state = 'active'
	`, jobID, leaseID, store.JobStateCompleted, string(data), string(done))
}

// Fail marks the job failed with a reason and releases its lease.
func (s *Store) Fail(ctx context.Context, tx store.DBTransaction, jobID, leaseID uuid.UUID, reason string) error {
	return s.leasedUpdate(ctx, tx, "fail job", `
		UPDATE jobs
		SET state = $3, failed_reason = $4, lease_id = NULL, finished_at = NOW()
		WHERE id = $1 AND lease_id = $2 AND state = 'active'
	`, jobID, leaseID, store.JobStateFailed, reason)
}

// ExtendLease extends the heartbeat.
func (s *Store) ExtendLease(ctx context.Context, jobID, leaseID uuid.UUID, visibleAfter time.Time) error {
	return s.leasedUpdate(ctx, nil, "extend job lease", `
		UPDATE jobs SET visible_after = $3
		WHERE id = $1 AND lease_id = $2 AND state = 'active'
	`, jobID, leaseID, visibleAfter)
}

func (s *Store) leasedUpdate(ctx context.Context, tx store.DBTransaction, op, query string, jobID, leaseID uuid.UUID, extra ...interface{}) error {
	args := append([]interface{}{jobID, leaseID}, extra...)

	res, err := s.getExecutor(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return store.StorageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.StorageError(op, err)
	}
	if n == 0 {
		return store.ErrLeaseLost
	}
	return nil
}

// ReapStalled fails jobs that stopped heartbeating after their last attempt.
func (s *Store) ReapStalled(ctx context.Context) ([]store.Job, error) {
	reason := fmt.Sprintf("job stalled: exceeded %d attempts", s.maxAttempts)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.StorageError("begin reap", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE jobs
		SET state = $1, failed_reason = $2, lease_id = NULL, finished_at = NOW()
		WHERE state = 'active' AND visible_after <= NOW() AND attempts >= $3
		RETURNING id, type, generation_id
	`, store.JobStateFailed, reason, s.maxAttempts)
	if err != nil {
		return nil, store.StorageError("reap stalled jobs", err)
	}

	var reaped []store.Job
	var generationIDs []string
	for rows.Next() {
		job := store.Job{State: store.JobStateFailed, FailedReason: &reason}
		if err := rows.Scan(&job.ID, &job.Type, &job.GenerationID); err != nil {
			rows.Close()
			return nil, store.StorageError("reap scan", err)
		}
		reaped = append(reaped, job)
		generationIDs = append(generationIDs, job.GenerationID.String())
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, store.StorageError("reap rows", err)
	}
	rows.Close()

	if len(reaped) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE generations SET status = $1, updated_at = NOW()
		WHERE id = ANY($2::uuid[])
	`, store.GenerationStatusFailed, pq.Array(generationIDs))
	if err != nil {
		return nil, store.StorageError("fail stalled generations", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, store.StorageError("commit reap", err)
	}
	return reaped, nil
}

// Count returns the number of waiting and active jobs.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE state IN ('waiting', 'active')`).Scan(&count)
	if err != nil {
		return 0, store.StorageError("count jobs", err)
	}
	return count, nil
}
