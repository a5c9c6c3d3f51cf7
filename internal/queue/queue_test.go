// ABOUTME: Integration tests for the Queue API against a real Postgres: push, push_uniq, clear.
// ABOUTME: Uses testutil.NewTestDB; each test runs in its own container (t.Parallel).
package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metagram-net/metagram.net-sub000/internal/queue"
	"github.com/metagram-net/metagram.net-sub000/internal/store"
	"github.com/metagram-net/metagram.net-sub000/internal/testutil"
)

type taskA struct{}

func (taskA) Kind() string { return "TaskA" }
func (taskA) Run(context.Context, *queue.Context) error { return nil }

type taskB struct {
	Feed int `json:"feed"`
}

func (*taskB) Kind() string { return "TaskB" }
func (*taskB) Run(context.Context, *queue.Context) error { return nil }

func newQueue() *queue.Queue {
	r := queue.NewRegistry()
	r.Register("TaskA", func() queue.Task { return &taskA{} })
	r.Register("TaskB", func() queue.Task { return &taskB{} })
	return queue.New(r)
}

func TestPushUniq_Idempotent(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	ctx := context.Background()
	now := time.Now()

	first, err := q.PushUniq(ctx, s.Queries, taskA{}, now)
	require.NoError(t, err)
	second, err := q.PushUniq(ctx, s.Queries, taskA{}, now)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = q.MarkSuccess(ctx, s.Queries, first.ID, now)
	require.NoError(t, err)

	third, err := q.PushUniq(ctx, s.Queries, taskA{}, now)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestPushUniq_KeepsFirstFields(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	ctx := context.Background()

	first, err := q.PushUniq(ctx, s.Queries, &taskB{Feed: 1}, time.Now())
	require.NoError(t, err)
	second, err := q.PushUniq(ctx, s.Queries, &taskB{Feed: 2}, time.Now())
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	task, err := q.Decode(second)
	require.NoError(t, err)
	assert.Equal(t, 1, task.(*taskB).Feed)
}

func TestPush_NeverDedupes(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	ctx := context.Background()

	one, err := q.Push(ctx, s.Queries, &taskB{Feed: 1}, time.Now())
	require.NoError(t, err)
	two, err := q.Push(ctx, s.Queries, &taskB{Feed: 2}, time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, one.ID, two.ID)
	assert.Equal(t, "TaskB", one.Kind())
	assert.Equal(t, "TaskB", two.Kind())
}

func TestPushUniq_Concurrent(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	ctx := context.Background()

	const callers = 10
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[uuid.UUID]int{}
	)
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			job, err := q.PushUniq(ctx, s.Queries, taskA{}, time.Now())
			if err != nil {
				t.Errorf("PushUniq: %v", err)
				return
			}
			mu.Lock()
			ids[job.ID]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, ids, 1, "concurrent PushUniq must share one open job")
	open, err := s.ListJobs(ctx, store.JobFilter{State: store.JobStatePending})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestPushUniq_InsideCallerTx(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	ctx := context.Background()

	// A rolled-back outer transaction takes the pushed job with it.
	err := s.Tx(ctx, func(tx *store.Queries) error {
		if _, err := q.PushUniq(ctx, tx, taskA{}, time.Now()); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	found, err := s.FindPendingJobByType(ctx, "TaskA")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestPush_UnregisteredTask(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := queue.New(queue.NewRegistry())

	_, err := q.Push(context.Background(), s.Queries, taskA{}, time.Now())
	assert.ErrorIs(t, err, queue.ErrUnknownTask)
}

func TestClearFinished(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	q := newQueue()
	ctx := context.Background()
	now := time.Now()

	done, err := q.Push(ctx, s.Queries, taskA{}, now.Add(-10*24*time.Hour))
	require.NoError(t, err)
	_, err = q.MarkSuccess(ctx, s.Queries, done.ID, now.Add(-10*24*time.Hour))
	require.NoError(t, err)
	failed, err := q.Push(ctx, s.Queries, &taskB{Feed: 1}, now.Add(-10*24*time.Hour))
	require.NoError(t, err)
	_, err = q.MarkFailure(ctx, s.Queries, failed.ID, now.Add(-10*24*time.Hour), "boom")
	require.NoError(t, err)

	cleared, err := q.ClearFinished(ctx, s.Queries, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, cleared, 1)
	assert.Equal(t, done.ID, cleared[0].ID)
}
