// Package worker runs the background side of metagram: a polling loop that
// claims and executes queued jobs, and a scheduler that enqueues recurring
// maintenance tasks.
//
// A worker iteration is one Postgres transaction: the claim, every write the
// task makes, and the outcome mark commit together. Any number of workers
// (in one process or many) may poll the same jobs table; FOR UPDATE SKIP LOCKED
// hands each job to exactly one of them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metagram-net/metagram.net-sub000/internal/queue"
	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

// DefaultPollInterval is how long an idle worker waits before claiming again.
const DefaultPollInterval = 60 * time.Second

// Config holds worker tuning (sourced from config.Config).
type Config struct {
	PollInterval time.Duration
	// Now is the clock handed to tasks and used for claim/finish stamps.
	// Defaults to time.Now.
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *Metrics
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
}

// Worker claims and executes jobs one at a time.
type Worker struct {
	store *store.Store
	queue *queue.Queue
	cfg   Config
	log   *slog.Logger
}

// New creates a Worker polling s and decoding tasks with q's registry.
func New(s *store.Store, q *queue.Queue, cfg Config) *Worker {
	cfg.setDefaults()
	return &Worker{
		store: s,
		queue: q,
		cfg:   cfg,
		log:   cfg.Logger.With("component", "worker"),
	}
}

// Run polls until ctx is cancelled. After an iteration that found no job (or
// failed to claim) it waits PollInterval; the wait is abandoned as soon as ctx
// is done. A job that is already running is allowed to finish.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", "poll_interval", w.cfg.PollInterval)
	idle := false
	for {
		if idle {
			timer := time.NewTimer(w.cfg.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				w.log.Info("worker stopping")
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			w.log.Info("worker stopping")
			return
		}

		found, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Error("worker iteration failed", "error", err)
		}
		idle = !found
	}
}

// RunOnce performs a single iteration: claim at most one job, run it, record
// the outcome and commit. It reports whether a job was claimed. Errors are
// returned only for failures around the claim; task failures are recorded on
// the job and are not errors here.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	tx, err := w.store.Begin(ctx)
	if err != nil {
		w.cfg.Metrics.claimErrors.Inc()
		return false, err
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // no-op after commit

	q := w.store.WithTx(tx)
	job, err := w.queue.Claim(ctx, q, w.cfg.Now())
	if err != nil {
		w.cfg.Metrics.claimErrors.Inc()
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.cfg.Metrics.claimed.Inc()

	// Once claimed, the job runs to completion regardless of shutdown.
	runCtx := context.WithoutCancel(ctx)
	log := w.log.With("job_id", job.ID)

	kind, runErr := w.execute(runCtx, q, job, log)
	log = log.With("kind", kind)

	finishedAt := w.cfg.Now()
	if runErr != nil {
		w.cfg.Metrics.finished.WithLabelValues(kind, outcomeFailure).Inc()
		log.Warn("job failed", "error", runErr)
		_, err = w.queue.MarkFailure(runCtx, q, job.ID, finishedAt, runErr.Error())
	} else {
		w.cfg.Metrics.finished.WithLabelValues(kind, outcomeSuccess).Inc()
		log.Info("job succeeded")
		_, err = w.queue.MarkSuccess(runCtx, q, job.ID, finishedAt)
	}
	if err != nil {
		// Rolling back releases the claim, so the job will be picked up again.
		return true, fmt.Errorf("record outcome of job %s: %w", job.ID, err)
	}

	if err := tx.Commit(runCtx); err != nil {
		log.Error("commit job outcome", "error", err)
	}
	return true, nil
}

// execute decodes and runs the job's task. The task runs inside a savepoint
// so a failing task's writes are discarded while the claim survives to be
// marked failed. It returns the kind label for metrics and the task error.
func (w *Worker) execute(ctx context.Context, q *store.Queries, job *store.Job, log *slog.Logger) (string, error) {
	task, err := w.queue.Decode(job)
	if err != nil {
		var de *queue.DecodeError
		if errors.As(err, &de) {
			log.Error("undecodable job", "type", de.Kind, "error", err)
		}
		return "invalid", err
	}
	kind := task.Kind()

	start := time.Now()
	defer func() {
		w.cfg.Metrics.duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	err = q.InTx(ctx, func(tq *store.Queries) error {
		return runTask(ctx, task, &queue.Context{
			Q:     tq,
			Queue: w.queue,
			Now:   w.cfg.Now(),
			Job:   job,
			Log:   log.With("kind", kind),
		})
	})
	return kind, err
}

// runTask converts a panic inside the task into an error so the job is marked
// failed instead of staying claimed forever.
func runTask(ctx context.Context, task queue.Task, jc *queue.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx, jc)
}
