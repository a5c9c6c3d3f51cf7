package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Stream is a saved search: the drops carrying any of its tags.
type Stream struct {
	ID        uuid.UUID   `json:"id"`
	UserID    uuid.UUID   `json:"user_id"`
	Name      string      `json:"name"`
	TagIDs    []uuid.UUID `json:"tag_ids"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

const streamColumns = `id, user_id, name, tag_ids, created_at, updated_at`

func scanStream(row pgx.Row) (*Stream, error) {
	var s Stream
	if err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.TagIDs, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if s.TagIDs == nil {
		s.TagIDs = []uuid.UUID{}
	}
	return &s, nil
}

// CreateStream resolves the tag selectors and inserts the stream.
func (q *Queries) CreateStream(ctx context.Context, userID uuid.UUID, name string, sels []TagSelector) (*Stream, error) {
	var result *Stream
	err := q.InTx(ctx, func(q *Queries) error {
		tags, err := q.resolveTags(ctx, userID, sels)
		if err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		s, err := scanStream(q.db.QueryRow(ctx,
			`INSERT INTO streams (user_id, name, tag_ids) VALUES ($1, $2, $3)
			 RETURNING `+streamColumns, userID, name, tagIDs(tags)))
		if err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		result = s
		return nil
	})
	return result, err
}

// GetStream returns one of userID's streams.
func (q *Queries) GetStream(ctx context.Context, userID, id uuid.UUID) (*Stream, error) {
	s, err := scanStream(q.db.QueryRow(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE user_id = $1 AND id = $2`, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return s, nil
}

// ListStreams returns userID's streams ordered by name.
func (q *Queries) ListStreams(ctx context.Context, userID uuid.UUID) ([]Stream, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE user_id = $1 ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()
	streams := []Stream{}
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, *s)
	}
	return streams, rows.Err()
}

// StreamDrops lists the drops in a stream. A stream with no tags is empty.
func (q *Queries) StreamDrops(ctx context.Context, userID, id uuid.UUID, status *DropStatus, limit int) ([]Drop, error) {
	s, err := q.GetStream(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if len(s.TagIDs) == 0 {
		return []Drop{}, nil
	}
	return q.ListDrops(ctx, userID, DropFilter{Status: status, TagIDs: s.TagIDs, Limit: limit})
}
