package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Hydrant is a subscribed feed that is polled to produce drops. TagIDs are
// applied to every drop the hydrant creates.
type Hydrant struct {
	ID        uuid.UUID   `json:"id"`
	UserID    uuid.UUID   `json:"user_id"`
	Name      string      `json:"name"`
	URL       string      `json:"url"`
	Active    bool        `json:"active"`
	TagIDs    []uuid.UUID `json:"tag_ids"`
	FetchedAt *time.Time  `json:"fetched_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

const hydrantColumns = `id, user_id, name, url, active, tag_ids, fetched_at, created_at, updated_at`

func scanHydrant(row pgx.Row) (*Hydrant, error) {
	var h Hydrant
	if err := row.Scan(&h.ID, &h.UserID, &h.Name, &h.URL, &h.Active, &h.TagIDs,
		&h.FetchedAt, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	if h.TagIDs == nil {
		h.TagIDs = []uuid.UUID{}
	}
	return &h, nil
}

func collectHydrants(rows pgx.Rows) ([]Hydrant, error) {
	defer rows.Close()
	hs := []Hydrant{}
	for rows.Next() {
		h, err := scanHydrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hydrant: %w", err)
		}
		hs = append(hs, *h)
	}
	return hs, rows.Err()
}

// TagSelectors returns one id selector per configured tag.
func (h *Hydrant) TagSelectors() []TagSelector {
	sels := make([]TagSelector, len(h.TagIDs))
	for i := range h.TagIDs {
		id := h.TagIDs[i]
		sels[i] = TagSelector{ID: &id}
	}
	return sels
}

// CreateHydrantParams holds the fields for a new hydrant.
type CreateHydrantParams struct {
	Name   string
	URL    string
	Active bool
	Tags   []TagSelector
}

// CreateHydrant resolves the tag selectors and inserts the hydrant.
func (q *Queries) CreateHydrant(ctx context.Context, userID uuid.UUID, p CreateHydrantParams) (*Hydrant, error) {
	var result *Hydrant
	err := q.InTx(ctx, func(q *Queries) error {
		tags, err := q.resolveTags(ctx, userID, p.Tags)
		if err != nil {
			return fmt.Errorf("create hydrant: %w", err)
		}
		h, err := scanHydrant(q.db.QueryRow(ctx,
			`INSERT INTO hydrants (user_id, name, url, active, tag_ids)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+hydrantColumns,
			userID, p.Name, p.URL, p.Active, tagIDs(tags)))
		if err != nil {
			return fmt.Errorf("create hydrant: %w", err)
		}
		result = h
		return nil
	})
	return result, err
}

func tagIDs(tags []Tag) []uuid.UUID {
	ids := make([]uuid.UUID, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return ids
}

// GetHydrant returns one of userID's hydrants.
func (q *Queries) GetHydrant(ctx context.Context, userID, id uuid.UUID) (*Hydrant, error) {
	h, err := scanHydrant(q.db.QueryRow(ctx,
		`SELECT `+hydrantColumns+` FROM hydrants WHERE user_id = $1 AND id = $2`, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hydrant: %w", err)
	}
	return h, nil
}

// ListHydrants returns userID's hydrants ordered by name.
func (q *Queries) ListHydrants(ctx context.Context, userID uuid.UUID) ([]Hydrant, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+hydrantColumns+` FROM hydrants
		 WHERE user_id = $1
		 ORDER BY name ASC, created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list hydrants: %w", err)
	}
	return collectHydrants(rows)
}

// UpdateHydrantParams holds the mutable fields of a hydrant. Nil fields are
// left as is; a non-nil Tags replaces the configured tag set.
type UpdateHydrantParams struct {
	Name   *string
	URL    *string
	Active *bool
	Tags   []TagSelector
}

// UpdateHydrant applies p to one of userID's hydrants.
func (q *Queries) UpdateHydrant(ctx context.Context, userID, id uuid.UUID, p UpdateHydrantParams) (*Hydrant, error) {
	var result *Hydrant
	err := q.InTx(ctx, func(q *Queries) error {
		var ids []uuid.UUID
		if p.Tags != nil {
			tags, err := q.resolveTags(ctx, userID, p.Tags)
			if err != nil {
				return fmt.Errorf("update hydrant: %w", err)
			}
			ids = tagIDs(tags)
		}
		h, err := scanHydrant(q.db.QueryRow(ctx,
			`UPDATE hydrants
			 SET name = COALESCE($3, name),
			     url = COALESCE($4, url),
			     active = COALESCE($5, active),
			     tag_ids = COALESCE($6::uuid[], tag_ids),
			     updated_at = now()
			 WHERE user_id = $1 AND id = $2
			 RETURNING `+hydrantColumns,
			userID, id, p.Name, p.URL, p.Active, ids))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update hydrant: %w", err)
		}
		result = h
		return nil
	})
	return result, err
}

// DeleteHydrant removes one of userID's hydrants. Drops it created are kept.
func (q *Queries) DeleteHydrant(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM hydrants WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete hydrant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStaleHydrants returns active hydrants that were never fetched or were
// last fetched before now, across all users.
func (q *Queries) ListStaleHydrants(ctx context.Context, now time.Time) ([]Hydrant, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+hydrantColumns+` FROM hydrants
		 WHERE active AND (fetched_at IS NULL OR fetched_at < $1)
		 ORDER BY fetched_at ASC NULLS FIRST, created_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list stale hydrants: %w", err)
	}
	return collectHydrants(rows)
}

// LockHydrant reads a hydrant with FOR UPDATE so that overlapping fetches of
// the same feed serialize on the row. Must run inside a transaction.
func (q *Queries) LockHydrant(ctx context.Context, id uuid.UUID) (*Hydrant, error) {
	h, err := scanHydrant(q.db.QueryRow(ctx,
		`SELECT `+hydrantColumns+` FROM hydrants WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock hydrant %s: %w", id, err)
	}
	return h, nil
}

// SetHydrantFetchedAt records a successful fetch.
func (q *Queries) SetHydrantFetchedAt(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE hydrants SET fetched_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("set hydrant fetched_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
