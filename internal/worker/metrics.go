package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for metagram_jobs_finished_total.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds the worker and scheduler collectors. Build one per process
// with NewMetrics and share it between the Worker and the Scheduler.
type Metrics struct {
	claimed     prometheus.Counter
	finished    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	claimErrors prometheus.Counter
	cronTicks   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		claimed: f.NewCounter(prometheus.CounterOpts{
			Name: "metagram_jobs_claimed_total",
			Help: "Jobs claimed by this worker.",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "metagram_jobs_finished_total",
			Help: "Jobs finished, by task kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metagram_job_duration_seconds",
			Help:    "Time spent running a task, by kind.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
		claimErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "metagram_worker_claim_errors_total",
			Help: "Claim attempts that failed with a storage error.",
		}),
		cronTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "metagram_cron_ticks_total",
			Help: "Scheduler ticks, by result.",
		}, []string{"result"}),
	}
}
