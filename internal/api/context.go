// ABOUTME: Request context key types and accessors for the api package.
// ABOUTME: Used by middleware to inject auth state and by handlers to read it.
package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
)

type contextKey int

const (
	ctxUserID contextKey = iota // uuid.UUID of the authenticated user
)

func withUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxUserID, id)
}

// userIDFrom returns the authenticated user, or a 401 when the request did
// not pass through RequireAuthenticated.
func userIDFrom(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(ctxUserID).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, huma.Error401Unauthorized("authentication required")
	}
	return id, nil
}
