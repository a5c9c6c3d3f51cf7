package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/metagram-net/metagram.net-sub000/internal/queue"
	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

// DefaultCronInterval is how often the scheduler enqueues recurring tasks.
const DefaultCronInterval = time.Hour

// SchedulerConfig holds scheduler tuning (sourced from config.Config).
type SchedulerConfig struct {
	Interval time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Scheduler enqueues a fixed set of recurring tasks with PushUniq, so a kind
// whose previous job has not finished yet is not enqueued again.
type Scheduler struct {
	store *store.Store
	queue *queue.Queue
	tasks []queue.Task
	cfg   SchedulerConfig
	log   *slog.Logger
}

// NewScheduler creates a Scheduler for tasks.
func NewScheduler(s *store.Store, q *queue.Queue, cfg SchedulerConfig, tasks ...queue.Task) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCronInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	return &Scheduler{
		store: s,
		queue: q,
		tasks: tasks,
		cfg:   cfg,
		log:   cfg.Logger.With("component", "cron"),
	}
}

// Run ticks once immediately and then every Interval until ctx is cancelled.
// Tick failures are logged and counted; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", "interval", s.cfg.Interval, "tasks", len(s.tasks))
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		s.cfg.Metrics.cronTicks.WithLabelValues("error").Inc()
		s.log.Error("scheduler tick failed", "error", err)
		return
	}
	s.cfg.Metrics.cronTicks.WithLabelValues("ok").Inc()
}

// Tick enqueues every recurring task in one transaction.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.cfg.Now()
	return s.store.Tx(ctx, func(q *store.Queries) error {
		for _, t := range s.tasks {
			job, err := s.queue.PushUniq(ctx, q, t, now)
			if err != nil {
				return err
			}
			s.log.Debug("scheduled", "kind", t.Kind(), "job_id", job.ID)
		}
		return nil
	})
}
