package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DropStatus is the reading state of a drop (Postgres enum drop_status).
type DropStatus string

const (
	DropUnread DropStatus = "unread"
	DropRead   DropStatus = "read"
	DropSaved  DropStatus = "saved"
)

// Valid reports whether s is one of the known statuses.
func (s DropStatus) Valid() bool {
	switch s {
	case DropUnread, DropRead, DropSaved:
		return true
	}
	return false
}

// Drop is a saved link together with its tags.
type Drop struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Title     *string    `json:"title,omitempty"`
	URL       string     `json:"url"`
	Status    DropStatus `json:"status"`
	MovedAt   time.Time  `json:"moved_at"`
	HydrantID *uuid.UUID `json:"hydrant_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Tags      []Tag      `json:"tags"`
}

const dropColumns = `id, user_id, title, url, status, moved_at, hydrant_id, created_at, updated_at`

func scanDrop(row pgx.Row) (*Drop, error) {
	var (
		d      Drop
		status string
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.URL, &status, &d.MovedAt,
		&d.HydrantID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = DropStatus(status)
	d.Tags = []Tag{}
	return &d, nil
}

func sortTags(tags []Tag) {
	slices.SortFunc(tags, func(a, b Tag) int { return strings.Compare(a.Name, b.Name) })
}

// CreateDropParams holds the fields for a new drop.
type CreateDropParams struct {
	UserID    uuid.UUID
	Title     *string
	URL       string
	HydrantID *uuid.UUID
	Tags      []TagSelector
	Now       time.Time
}

// CreateDrop inserts an unread drop and links its tags in one unit of work.
func (q *Queries) CreateDrop(ctx context.Context, p CreateDropParams) (*Drop, error) {
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	var result *Drop
	err := q.InTx(ctx, func(q *Queries) error {
		d, err := scanDrop(q.db.QueryRow(ctx,
			`INSERT INTO drops (user_id, title, url, status, moved_at, hydrant_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+dropColumns,
			p.UserID, p.Title, p.URL, string(DropUnread), p.Now, p.HydrantID))
		if err != nil {
			return fmt.Errorf("create drop: %w", err)
		}
		tags, err := q.resolveTags(ctx, p.UserID, p.Tags)
		if err != nil {
			return fmt.Errorf("create drop: %w", err)
		}
		if err := q.attachTags(ctx, d.ID, tags); err != nil {
			return err
		}
		d.Tags = tags
		result = d
		return nil
	})
	return result, err
}

func (q *Queries) attachTags(ctx context.Context, dropID uuid.UUID, tags []Tag) error {
	if len(tags) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	if _, err := q.db.Exec(ctx,
		`INSERT INTO drop_tags (drop_id, tag_id)
		 SELECT $1, unnest($2::uuid[])
		 ON CONFLICT DO NOTHING`, dropID, ids); err != nil {
		return fmt.Errorf("attach tags: %w", err)
	}
	return nil
}

// loadDropTags fills Tags for every drop in ds with a single query.
func (q *Queries) loadDropTags(ctx context.Context, ds []Drop) error {
	if len(ds) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(ds))
	index := make(map[uuid.UUID]int, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
		index[d.ID] = i
	}
	rows, err := q.db.Query(ctx,
		`SELECT drop_tags.drop_id, tags.id, tags.user_id, tags.name, tags.color, tags.created_at, tags.updated_at
		 FROM drop_tags JOIN tags ON tags.id = drop_tags.tag_id
		 WHERE drop_tags.drop_id = ANY($1)
		 ORDER BY tags.name ASC`, ids)
	if err != nil {
		return fmt.Errorf("load drop tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			dropID uuid.UUID
			t      Tag
		)
		if err := rows.Scan(&dropID, &t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return fmt.Errorf("scan drop tag: %w", err)
		}
		i := index[dropID]
		ds[i].Tags = append(ds[i].Tags, t)
	}
	return rows.Err()
}

// GetDrop returns one of userID's drops with its tags.
func (q *Queries) GetDrop(ctx context.Context, userID, id uuid.UUID) (*Drop, error) {
	d, err := scanDrop(q.db.QueryRow(ctx,
		`SELECT `+dropColumns+` FROM drops WHERE user_id = $1 AND id = $2`, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get drop: %w", err)
	}
	ds := []Drop{*d}
	if err := q.loadDropTags(ctx, ds); err != nil {
		return nil, err
	}
	return &ds[0], nil
}

// DropFilter narrows ListDrops. TagIDs matches drops carrying any of the tags.
type DropFilter struct {
	Status *DropStatus
	TagIDs []uuid.UUID
	Limit  int
}

// ListDrops returns userID's drops, most recently moved first.
func (q *Queries) ListDrops(ctx context.Context, userID uuid.UUID, f DropFilter) ([]Drop, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	var tagIDs []uuid.UUID
	if len(f.TagIDs) > 0 {
		tagIDs = f.TagIDs
	}
	rows, err := q.db.Query(ctx,
		`SELECT `+dropColumns+` FROM drops
		 WHERE user_id = $1
		   AND ($2::drop_status IS NULL OR status = $2::drop_status)
		   AND ($3::uuid[] IS NULL OR EXISTS (
		       SELECT 1 FROM drop_tags
		       WHERE drop_tags.drop_id = drops.id AND drop_tags.tag_id = ANY($3::uuid[])))
		 ORDER BY moved_at DESC, id ASC
		 LIMIT $4`, userID, status, tagIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("list drops: %w", err)
	}
	defer rows.Close()
	drops := []Drop{}
	for rows.Next() {
		d, err := scanDrop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drop: %w", err)
		}
		drops = append(drops, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list drops: %w", err)
	}
	if err := q.loadDropTags(ctx, drops); err != nil {
		return nil, err
	}
	return drops, nil
}

// MoveDrop changes a drop's status and stamps moved_at.
func (q *Queries) MoveDrop(ctx context.Context, userID, id uuid.UUID, status DropStatus, now time.Time) (*Drop, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("move drop: invalid status %q", status)
	}
	_, err := scanDrop(q.db.QueryRow(ctx,
		`UPDATE drops SET status = $3, moved_at = $4, updated_at = now()
		 WHERE user_id = $1 AND id = $2
		 RETURNING `+dropColumns, userID, id, string(status), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("move drop: %w", err)
	}
	return q.GetDrop(ctx, userID, id)
}

// UpdateDropParams holds the mutable fields of a drop. Nil fields are left as
// is; a non-nil Tags replaces the drop's tag set.
type UpdateDropParams struct {
	Title *string
	URL   *string
	Tags  []TagSelector
}

// UpdateDrop applies p to one of userID's drops.
func (q *Queries) UpdateDrop(ctx context.Context, userID, id uuid.UUID, p UpdateDropParams) (*Drop, error) {
	var result *Drop
	err := q.InTx(ctx, func(q *Queries) error {
		_, err := scanDrop(q.db.QueryRow(ctx,
			`UPDATE drops
			 SET title = COALESCE($3, title), url = COALESCE($4, url), updated_at = now()
			 WHERE user_id = $1 AND id = $2
			 RETURNING `+dropColumns, userID, id, p.Title, p.URL))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update drop: %w", err)
		}
		if p.Tags != nil {
			tags, err := q.resolveTags(ctx, userID, p.Tags)
			if err != nil {
				return fmt.Errorf("update drop: %w", err)
			}
			keep := make([]uuid.UUID, len(tags))
			for i, t := range tags {
				keep[i] = t.ID
			}
			if _, err := q.db.Exec(ctx,
				`DELETE FROM drop_tags WHERE drop_id = $1 AND NOT (tag_id = ANY($2::uuid[]))`,
				id, keep); err != nil {
				return fmt.Errorf("detach tags: %w", err)
			}
			if err := q.attachTags(ctx, id, tags); err != nil {
				return err
			}
		}
		d, err := q.GetDrop(ctx, userID, id)
		if err != nil {
			return err
		}
		result = d
		return nil
	})
	return result, err
}
