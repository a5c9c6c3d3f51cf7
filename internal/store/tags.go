package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultTagColor is used when a tag is created by name without a color.
const DefaultTagColor = "#cccccc"

// Tag is a user-defined label attached to drops.
type Tag struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TagSelector identifies a tag either by id (must already exist) or by name
// (found, or created with Color).
type TagSelector struct {
	ID    *uuid.UUID
	Name  string
	Color string
}

const tagColumns = `id, user_id, name, color, created_at, updated_at`

func scanTag(row pgx.Row) (*Tag, error) {
	var t Tag
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTags(rows pgx.Rows) ([]Tag, error) {
	defer rows.Close()
	tags := []Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, *t)
	}
	return tags, rows.Err()
}

// CreateTag inserts a tag for userID.
func (q *Queries) CreateTag(ctx context.Context, userID uuid.UUID, name, color string) (*Tag, error) {
	if color == "" {
		color = DefaultTagColor
	}
	t, err := scanTag(q.db.QueryRow(ctx,
		`INSERT INTO tags (user_id, name, color) VALUES ($1, $2, $3)
		 RETURNING `+tagColumns, userID, name, color))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create tag: %w", err)
	}
	return t, nil
}

// GetTag returns one of userID's tags.
func (q *Queries) GetTag(ctx context.Context, userID, id uuid.UUID) (*Tag, error) {
	t, err := scanTag(q.db.QueryRow(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id = $1 AND id = $2`, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

// ListTags returns userID's tags ordered by name.
func (q *Queries) ListTags(ctx context.Context, userID uuid.UUID) ([]Tag, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id = $1 ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return collectTags(rows)
}

// FindTags returns the subset of ids that are userID's tags, ordered by name.
func (q *Queries) FindTags(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]Tag, error) {
	if len(ids) == 0 {
		return []Tag{}, nil
	}
	rows, err := q.db.Query(ctx,
		`SELECT `+tagColumns+` FROM tags
		 WHERE user_id = $1 AND id = ANY($2)
		 ORDER BY name ASC`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("find tags: %w", err)
	}
	return collectTags(rows)
}

// UpdateTag changes the name and/or color of a tag. Nil fields are left as is.
func (q *Queries) UpdateTag(ctx context.Context, userID, id uuid.UUID, name, color *string) (*Tag, error) {
	t, err := scanTag(q.db.QueryRow(ctx,
		`UPDATE tags
		 SET name = COALESCE($3, name), color = COALESCE($4, color), updated_at = now()
		 WHERE user_id = $1 AND id = $2
		 RETURNING `+tagColumns, userID, id, name, color))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("update tag: %w", err)
	}
	return t, nil
}

// FindOrCreateTag resolves sel for userID. Selecting by id requires the tag to
// exist; selecting by name creates the tag when it is missing.
func (q *Queries) FindOrCreateTag(ctx context.Context, userID uuid.UUID, sel TagSelector) (*Tag, error) {
	if sel.ID != nil {
		return q.GetTag(ctx, userID, *sel.ID)
	}
	if sel.Name == "" {
		return nil, fmt.Errorf("find or create tag: empty selector")
	}
	color := sel.Color
	if color == "" {
		color = DefaultTagColor
	}
	// The no-op update makes RETURNING yield the existing row on conflict.
	t, err := scanTag(q.db.QueryRow(ctx,
		`INSERT INTO tags (user_id, name, color) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING `+tagColumns, userID, sel.Name, color))
	if err != nil {
		return nil, fmt.Errorf("find or create tag %q: %w", sel.Name, err)
	}
	return t, nil
}

// resolveTags resolves every selector, returning the tags sorted by name.
func (q *Queries) resolveTags(ctx context.Context, userID uuid.UUID, sels []TagSelector) ([]Tag, error) {
	tags := make([]Tag, 0, len(sels))
	seen := make(map[uuid.UUID]bool, len(sels))
	for _, sel := range sels {
		t, err := q.FindOrCreateTag(ctx, userID, sel)
		if err != nil {
			return nil, err
		}
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		tags = append(tags, *t)
	}
	sortTags(tags)
	return tags, nil
}
