// ABOUTME: Integration tests for the worker loop and scheduler against a real Postgres.
// ABOUTME: Test tasks record side effects in the users table to observe commit/rollback.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metagram-net/metagram.net-sub000/internal/queue"
	"github.com/metagram-net/metagram.net-sub000/internal/store"
	"github.com/metagram-net/metagram.net-sub000/internal/testutil"
	"github.com/metagram-net/metagram.net-sub000/internal/worker"
)

// signupTask creates a user and then behaves according to Mode.
type signupTask struct {
	Email string `json:"email"`
	Mode  string `json:"mode"` // "", "fail" or "panic"
}

func (*signupTask) Kind() string { return "Signup" }

func (t *signupTask) Run(ctx context.Context, jc *queue.Context) error {
	if _, err := jc.Q.CreateUser(ctx, t.Email); err != nil {
		return err
	}
	switch t.Mode {
	case "fail":
		return errors.New("boom")
	case "panic":
		panic("kaboom")
	}
	return nil
}

// tickTask is a no-op recurring task for scheduler tests.
type tickTask struct{}

func (*tickTask) Kind() string { return "Tick" }

func (*tickTask) Run(context.Context, *queue.Context) error { return nil }

func newQueue() *queue.Queue {
	r := queue.NewRegistry()
	r.Register("Signup", func() queue.Task { return &signupTask{} })
	r.Register("Tick", func() queue.Task { return &tickTask{} })
	return queue.New(r)
}

func userCount(t *testing.T, s *store.Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.Pool().QueryRow(context.Background(), `SELECT count(*) FROM users`).Scan(&n))
	return n
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	w := worker.New(s, newQueue(), worker.Config{})

	found, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunOnce_SuccessCommitsSideEffects(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	w := worker.New(s, q, worker.Config{Now: testutil.FixedClock(now)})

	job, err := q.Push(ctx, s.Queries, &signupTask{Email: "ok@example.com"}, now)
	require.NoError(t, err)

	found, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStateSucceeded, got.State())
	assert.Nil(t, got.Error)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.StartedAt.Equal(now))
	assert.True(t, got.FinishedAt.Equal(now))
	assert.Equal(t, 1, userCount(t, s))
}

func TestRunOnce_TaskErrorRollsBackWritesAndMarksFailed(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	ctx := context.Background()
	w := worker.New(s, q, worker.Config{})

	job, err := q.Push(ctx, s.Queries, &signupTask{Email: "fail@example.com", Mode: "fail"}, time.Now())
	require.NoError(t, err)

	found, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
	assert.Equal(t, 0, userCount(t, s), "task writes must roll back on failure")

	// Failure is terminal: nothing left to claim.
	found, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunOnce_PanicRecordedAsFailure(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	ctx := context.Background()
	w := worker.New(s, q, worker.Config{})

	job, err := q.Push(ctx, s.Queries, &signupTask{Email: "p@example.com", Mode: "panic"}, time.Now())
	require.NoError(t, err)

	found, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "panic: kaboom")
}

func TestRunOnce_UndecodableJobMarkedFailed(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()
	w := worker.New(s, newQueue(), worker.Config{})

	unknown, err := s.InsertJob(ctx, json.RawMessage(`{"type":"Retired"}`), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	badFields, err := s.InsertJob(ctx, json.RawMessage(`{"type":"Signup","emial":"typo"}`), time.Now())
	require.NoError(t, err)

	for range 2 {
		found, err := w.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, found)
	}

	got, err := s.GetJob(ctx, unknown.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "unknown task type")

	got, err = s.GetJob(ctx, badFields.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "emial")
}

func TestRun_ProcessesAndStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	w := worker.New(s, q, worker.Config{PollInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	// Pushed after the loop has gone idle: picked up on a later poll.
	time.Sleep(50 * time.Millisecond)
	job, err := q.Push(context.Background(), s.Queries, &signupTask{Email: "late@example.com"}, time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := s.GetJob(context.Background(), job.ID)
		return err == nil && got.FinishedAt != nil
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestRun_CancelInterruptsLongPoll(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	w := worker.New(s, newQueue(), worker.Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("an hour-long poll wait must be abandoned on cancel")
	}
}

func TestScheduler_RunTicksImmediately(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	sched := worker.NewScheduler(s, q, worker.SchedulerConfig{Interval: time.Hour}, &tickTask{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		j, err := s.FindPendingJobByType(context.Background(), "Tick")
		return err == nil && j != nil
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestScheduler_TickDedupesUntilFinished(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	ctx := context.Background()
	sched := worker.NewScheduler(s, q, worker.SchedulerConfig{}, &tickTask{})
	w := worker.New(s, q, worker.Config{})

	require.NoError(t, sched.Tick(ctx))
	first, err := s.FindPendingJobByType(ctx, "Tick")
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, sched.Tick(ctx))
	again, err := s.FindPendingJobByType(ctx, "Tick")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	found, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, sched.Tick(ctx))
	next, err := s.FindPendingJobByType(ctx, "Tick")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, first.ID, next.ID)
}
