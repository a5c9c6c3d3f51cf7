package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

type meOutput struct {
	Body *store.User
}

// meHandler handles GET /api/v1/me.
func (srv *Server) meHandler(ctx context.Context, _ *struct{}) (*meOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	u, err := srv.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeError(ctx, "get user", err)
	}
	return &meOutput{Body: u}, nil
}

func registerUserRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "get-me",
		Method:      http.MethodGet,
		Path:        "/me",
		Tags:        []string{"users"},
		Summary:     "Get the authenticated user",
	}, srv.meHandler)
}
