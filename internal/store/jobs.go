package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Job is one durable unit of work in the jobs table.
//
// StartedAt is the claim marker: a job with StartedAt set is never handed to
// another worker. Error is non-nil only for jobs that finished unsuccessfully.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Params      json.RawMessage `json:"params"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

// Kind returns the "type" discriminator stored in Params, or "" if Params
// does not carry one.
func (j *Job) Kind() string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(j.Params, &head); err != nil {
		return ""
	}
	return head.Type
}

// State names the lifecycle position of the job.
func (j *Job) State() string {
	switch {
	case j.Error != nil:
		return JobStateFailed
	case j.FinishedAt != nil:
		return JobStateSucceeded
	case j.StartedAt != nil:
		return JobStateRunning
	default:
		return JobStatePending
	}
}

const (
	JobStatePending   = "pending"
	JobStateRunning   = "running"
	JobStateSucceeded = "succeeded"
	JobStateFailed    = "failed"
)

const jobColumns = `id, params, scheduled_at, started_at, finished_at, error`

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j      Job
		params []byte
	)
	if err := row.Scan(&j.ID, &params, &j.ScheduledAt, &j.StartedAt, &j.FinishedAt, &j.Error); err != nil {
		return nil, err
	}
	j.Params = json.RawMessage(params)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// InsertJob creates an open job (not started, not finished) with the given
// encoded params.
func (q *Queries) InsertJob(ctx context.Context, params json.RawMessage, scheduledAt time.Time) (*Job, error) {
	j, err := scanJob(q.db.QueryRow(ctx,
		`INSERT INTO jobs (params, scheduled_at) VALUES ($1, $2) RETURNING `+jobColumns,
		[]byte(params), scheduledAt))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// FindPendingJobByType returns an unfinished job whose params "type" equals
// kind. Returns (nil, nil) when there is none.
func (q *Queries) FindPendingJobByType(ctx context.Context, kind string) (*Job, error) {
	j, err := scanJob(q.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE params ->> 'type' = $1 AND finished_at IS NULL
		 ORDER BY scheduled_at ASC
		 LIMIT 1`, kind))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending job %q: %w", kind, err)
	}
	return j, nil
}

// ClaimJob atomically marks the oldest eligible unstarted job as started at
// now and returns it. FOR UPDATE SKIP LOCKED lets concurrent claimers each
// take a different row without waiting on one another. Returns (nil, nil)
// when no job is currently available.
func (q *Queries) ClaimJob(ctx context.Context, now time.Time) (*Job, error) {
	j, err := scanJob(q.db.QueryRow(ctx,
		`UPDATE jobs SET started_at = $1
		 WHERE id = (
		     SELECT id FROM jobs
		     WHERE started_at IS NULL AND finished_at IS NULL AND scheduled_at <= $1
		     ORDER BY scheduled_at ASC
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// MarkJobSuccess closes the job without an error. Returns ErrNotFound if the
// job no longer exists or was already finished.
func (q *Queries) MarkJobSuccess(ctx context.Context, id uuid.UUID, now time.Time) (*Job, error) {
	j, err := scanJob(q.db.QueryRow(ctx,
		`UPDATE jobs SET finished_at = $2
		 WHERE id = $1 AND finished_at IS NULL
		 RETURNING `+jobColumns, id, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark job %s succeeded: %w", id, err)
	}
	return j, nil
}

// MarkJobFailure closes the job and records errMsg. Returns ErrNotFound if the
// job no longer exists or was already finished.
func (q *Queries) MarkJobFailure(ctx context.Context, id uuid.UUID, now time.Time, errMsg string) (*Job, error) {
	j, err := scanJob(q.db.QueryRow(ctx,
		`UPDATE jobs SET finished_at = $2, error = $3
		 WHERE id = $1 AND finished_at IS NULL
		 RETURNING `+jobColumns, id, now, errMsg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark job %s failed: %w", id, err)
	}
	return j, nil
}

// DeleteFinishedJobsBefore deletes successfully finished jobs whose
// finished_at is before cutoff and returns them. Failed jobs are kept.
func (q *Queries) DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time) ([]Job, error) {
	rows, err := q.db.Query(ctx,
		`DELETE FROM jobs
		 WHERE finished_at < $1 AND error IS NULL
		 RETURNING `+jobColumns, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete finished jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("delete finished jobs: %w", err)
	}
	return jobs, nil
}

// GetJob returns the job with the given id.
func (q *Queries) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := scanJob(q.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// JobFilter narrows ListJobs. An empty State matches every job.
type JobFilter struct {
	State string
	Limit int
}

// ListJobs returns jobs newest-scheduled first.
func (q *Queries) ListJobs(ctx context.Context, f JobFilter) ([]Job, error) {
	where := "TRUE"
	switch f.State {
	case "":
	case JobStatePending:
		where = "started_at IS NULL AND finished_at IS NULL"
	case JobStateRunning:
		where = "started_at IS NOT NULL AND finished_at IS NULL"
	case JobStateSucceeded:
		where = "finished_at IS NOT NULL AND error IS NULL"
	case JobStateFailed:
		where = "error IS NOT NULL"
	default:
		return nil, fmt.Errorf("list jobs: unknown state %q", f.State)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := q.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE `+where+`
		 ORDER BY scheduled_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// AdvisoryXactLock takes a transaction-scoped Postgres advisory lock on key.
// The lock is released when the surrounding transaction ends, so this must run
// inside one.
func (q *Queries) AdvisoryXactLock(ctx context.Context, key int64) error {
	if _, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("advisory lock %d: %w", key, err)
	}
	return nil
}
