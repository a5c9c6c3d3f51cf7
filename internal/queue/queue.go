// Package queue is a durable job queue stored in the Postgres jobs table.
//
// Tasks are encoded through a Registry into jobs.params. Push always inserts;
// PushUniq inserts only when no unfinished job of the same kind exists. Claim
// hands each job to exactly one caller using FOR UPDATE SKIP LOCKED, and the
// Mark* methods record the single terminal outcome.
//
// Every method takes a *store.Queries so it runs on whatever the caller is
// bound to: the pool, or the transaction a worker claimed the job in.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

// Context is what a running task sees. Q is bound to the same transaction
// that claimed Job, so everything the task writes (including follow-up jobs
// pushed through Queue) commits or rolls back together with the outcome mark.
type Context struct {
	Q     *store.Queries
	Queue *Queue
	Now   time.Time
	Job   *store.Job
	Log   *slog.Logger
}

// Queue binds the queue operations to a task Registry.
type Queue struct {
	reg *Registry
}

// New creates a Queue that encodes and decodes tasks with reg.
func New(reg *Registry) *Queue {
	return &Queue{reg: reg}
}

// Registry returns the registry this queue encodes with.
func (q *Queue) Registry() *Registry { return q.reg }

// Push encodes t and inserts it unconditionally.
func (q *Queue) Push(ctx context.Context, db *store.Queries, t Task, scheduledAt time.Time) (*store.Job, error) {
	params, err := q.reg.Encode(t)
	if err != nil {
		return nil, err
	}
	return db.InsertJob(ctx, params, scheduledAt)
}

// PushUniq inserts t unless an unfinished job of the same kind exists, in
// which case that job is returned unchanged and t's fields are discarded.
// Concurrent calls for one kind serialize on a transaction-scoped advisory
// lock, so check-then-insert cannot produce two open jobs.
func (q *Queue) PushUniq(ctx context.Context, db *store.Queries, t Task, scheduledAt time.Time) (*store.Job, error) {
	params, err := q.reg.Encode(t)
	if err != nil {
		return nil, err
	}
	kind := t.Kind()
	var job *store.Job
	err = db.InTx(ctx, func(tx *store.Queries) error {
		if err := tx.AdvisoryXactLock(ctx, kindLockKey(kind)); err != nil {
			return err
		}
		existing, err := tx.FindPendingJobByType(ctx, kind)
		if err != nil {
			return err
		}
		if existing != nil {
			job = existing
			return nil
		}
		job, err = tx.InsertJob(ctx, params, scheduledAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("push uniq %q: %w", kind, err)
	}
	return job, nil
}

// Claim marks the oldest eligible job started at now and returns it, or
// (nil, nil) when nothing is eligible. Rows locked by other claimers are
// skipped rather than waited on.
func (q *Queue) Claim(ctx context.Context, db *store.Queries, now time.Time) (*store.Job, error) {
	return db.ClaimJob(ctx, now)
}

// Decode reconstructs the task stored in job.
func (q *Queue) Decode(job *store.Job) (Task, error) {
	return q.reg.Decode(job.Params)
}

// MarkSuccess records that job finished without error.
func (q *Queue) MarkSuccess(ctx context.Context, db *store.Queries, id uuid.UUID, now time.Time) (*store.Job, error) {
	return db.MarkJobSuccess(ctx, id, now)
}

// MarkFailure records that job finished with msg as its error.
func (q *Queue) MarkFailure(ctx context.Context, db *store.Queries, id uuid.UUID, now time.Time, msg string) (*store.Job, error) {
	return db.MarkJobFailure(ctx, id, now, msg)
}

// ClearFinished deletes successful jobs finished before the cutoff and
// returns them. Failed jobs are kept for inspection.
func (q *Queue) ClearFinished(ctx context.Context, db *store.Queries, before time.Time) ([]store.Job, error) {
	return db.DeleteFinishedJobsBefore(ctx, before)
}
