package worker

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registers(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.claimed.Inc()
	m.finished.WithLabelValues("HydrateOne", outcomeFailure).Inc()
	m.cronTicks.WithLabelValues("ok").Add(2)

	if got := promtest.ToFloat64(m.claimed); got != 1 {
		t.Errorf("claimed = %v, want 1", got)
	}
	if got := promtest.ToFloat64(m.cronTicks.WithLabelValues("ok")); got != 2 {
		t.Errorf("cron ticks = %v, want 2", got)
	}
	n, err := promtest.GatherAndCount(reg,
		"metagram_jobs_claimed_total",
		"metagram_jobs_finished_total",
		"metagram_cron_ticks_total",
	)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 3 {
		t.Errorf("gathered %d series, want 3", n)
	}
}

func TestNewMetrics_NilRegistererIsIsolated(t *testing.T) {
	t.Parallel()

	// Two unregistered sets must not collide.
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	a.claimed.Inc()
	if got := promtest.ToFloat64(b.claimed); got != 0 {
		t.Errorf("b.claimed = %v, want 0", got)
	}
}
