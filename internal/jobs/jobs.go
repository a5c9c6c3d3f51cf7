// Package jobs defines metagram's background tasks and the registry that
// lists them. The set of kinds is closed: NewRegistry is the only place a kind
// is registered, and the "type" names below are stored in jobs.params, so they
// must never be renamed.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/metagram-net/metagram.net-sub000/internal/feed"
	"github.com/metagram-net/metagram.net-sub000/internal/queue"
	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

// Wire names of the task kinds.
const (
	KindHydrateAll = "HydrateAll"
	KindHydrateOne = "HydrateOne"
	KindCleanup    = "Cleanup"
)

// DefaultRetention is how long successful jobs are kept before Cleanup
// deletes them.
const DefaultRetention = 7 * 24 * time.Hour

// Deps are the runtime collaborators injected into decoded tasks.
type Deps struct {
	Fetcher   feed.Fetcher
	Retention time.Duration
}

// NewRegistry returns the registry of every task kind, wired to d.
func NewRegistry(d Deps) *queue.Registry {
	if d.Retention <= 0 {
		d.Retention = DefaultRetention
	}
	r := queue.NewRegistry()
	r.Register(KindHydrateAll, func() queue.Task { return &HydrateAll{} })
	r.Register(KindHydrateOne, func() queue.Task { return &HydrateOne{fetcher: d.Fetcher} })
	r.Register(KindCleanup, func() queue.Task { return &Cleanup{retention: d.Retention} })
	return r
}

// Recurring returns the tasks the scheduler enqueues on every tick.
func Recurring() []queue.Task {
	return []queue.Task{&HydrateAll{}, &Cleanup{}}
}

// HydrateAll enqueues one HydrateOne per stale hydrant.
type HydrateAll struct{}

func (*HydrateAll) Kind() string { return KindHydrateAll }

// Run lists active hydrants not fetched since jc.Now and pushes a HydrateOne
// for each. Plain Push is used: distinct hydrants must not dedupe each other.
func (*HydrateAll) Run(ctx context.Context, jc *queue.Context) error {
	stale, err := jc.Q.ListStaleHydrants(ctx, jc.Now)
	if err != nil {
		return err
	}
	for _, h := range stale {
		if _, err := jc.Queue.Push(ctx, jc.Q, &HydrateOne{HydrantID: h.ID}, jc.Now); err != nil {
			return fmt.Errorf("enqueue hydrant %s: %w", h.ID, err)
		}
	}
	jc.Log.Info("stale hydrants enqueued", "count", len(stale))
	return nil
}

// HydrateOne fetches one hydrant's feed and turns new entries into drops.
type HydrateOne struct {
	HydrantID uuid.UUID `json:"hydrant_id"`

	fetcher feed.Fetcher
}

func (*HydrateOne) Kind() string { return KindHydrateOne }

// Run locks the hydrant row for the rest of the job's transaction, so two
// overlapping jobs for one hydrant run one after the other. Inactive hydrants
// are skipped. Entries published before the previous fetch are ignored;
// undated entries are always imported.
func (t *HydrateOne) Run(ctx context.Context, jc *queue.Context) error {
	if t.fetcher == nil {
		return errors.New("hydrate: no feed fetcher configured")
	}
	h, err := jc.Q.LockHydrant(ctx, t.HydrantID)
	if err != nil {
		return err
	}
	if !h.Active {
		jc.Log.Info("hydrant inactive, skipping", "hydrant_id", h.ID)
		return nil
	}

	body, err := t.fetcher.Fetch(ctx, h.URL)
	if err != nil {
		return err
	}
	entries, err := feed.Parse(body)
	if err != nil {
		return err
	}
	fresh := feed.FreshEntries(entries, h.FetchedAt)

	tags := h.TagSelectors()
	for _, e := range fresh {
		if _, err := jc.Q.CreateDrop(ctx, store.CreateDropParams{
			UserID:    h.UserID,
			Title:     e.Title,
			URL:       *e.Link,
			HydrantID: &h.ID,
			Tags:      tags,
			Now:       jc.Now,
		}); err != nil {
			return err
		}
	}
	if err := jc.Q.SetHydrantFetchedAt(ctx, h.ID, jc.Now); err != nil {
		return err
	}
	jc.Log.Info("hydrant fetched", "hydrant_id", h.ID, "entries", len(entries), "drops", len(fresh))
	return nil
}

// Cleanup deletes successful jobs that finished more than the retention
// period ago. Failed jobs are kept.
type Cleanup struct {
	retention time.Duration
}

func (*Cleanup) Kind() string { return KindCleanup }

func (t *Cleanup) Run(ctx context.Context, jc *queue.Context) error {
	retention := t.retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cleared, err := jc.Queue.ClearFinished(ctx, jc.Q, jc.Now.Add(-retention))
	if err != nil {
		return err
	}
	jc.Log.Info("finished jobs cleared", "count", len(cleared))
	return nil
}
