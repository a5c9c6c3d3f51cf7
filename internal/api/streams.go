package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

type streamsOutput struct {
	Body struct {
		Items []store.Stream `json:"items"`
	}
}

type streamOutput struct {
	Body *store.Stream
}

func (srv *Server) listStreamsHandler(ctx context.Context, _ *struct{}) (*streamsOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	ss, err := srv.store.ListStreams(ctx, userID)
	if err != nil {
		return nil, storeError(ctx, "list streams", err)
	}
	out := &streamsOutput{}
	out.Body.Items = ss
	return out, nil
}

type createStreamInput struct {
	Body struct {
		Name string   `json:"name" minLength:"1" maxLength:"200"`
		Tags []tagRef `json:"tags" doc:"Drops carrying any of these tags belong to the stream"`
	}
}

func (srv *Server) createStreamHandler(ctx context.Context, input *createStreamInput) (*streamOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	sels, err := tagSelectors(input.Body.Tags)
	if err != nil {
		return nil, err
	}
	s, err := srv.store.CreateStream(ctx, userID, input.Body.Name, sels)
	if err != nil {
		return nil, storeError(ctx, "create stream", err)
	}
	return &streamOutput{Body: s}, nil
}

type streamIDInput struct {
	ID string `path:"id" format:"uuid"`
}

func (srv *Server) getStreamHandler(ctx context.Context, input *streamIDInput) (*streamOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, err
	}
	s, err := srv.store.GetStream(ctx, userID, id)
	if err != nil {
		return nil, storeError(ctx, "get stream", err)
	}
	return &streamOutput{Body: s}, nil
}

type streamDropsInput struct {
	ID     string `path:"id" format:"uuid"`
	Status string `query:"status" enum:"unread,read,saved"`
	Limit  int    `query:"limit" minimum:"1" maximum:"500" default:"100"`
}

func (srv *Server) streamDropsHandler(ctx context.Context, input *streamDropsInput) (*dropsOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, err
	}
	drops, err := srv.store.StreamDrops(ctx, userID, id, statusFilter(input.Status), input.Limit)
	if err != nil {
		return nil, storeError(ctx, "stream drops", err)
	}
	out := &dropsOutput{}
	out.Body.Items = drops
	return out, nil
}

func registerStreamRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/streams",
		Tags:        []string{"streams"},
		Summary:     "List streams",
	}, srv.listStreamsHandler)

	huma.Register(api, huma.Operation{
		OperationID:   "create-stream",
		Method:        http.MethodPost,
		Path:          "/streams",
		Tags:          []string{"streams"},
		Summary:       "Create a stream over a set of tags",
		DefaultStatus: http.StatusCreated,
	}, srv.createStreamHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-stream",
		Method:      http.MethodGet,
		Path:        "/streams/{id}",
		Tags:        []string{"streams"},
		Summary:     "Get a stream",
	}, srv.getStreamHandler)

	huma.Register(api, huma.Operation{
		OperationID: "list-stream-drops",
		Method:      http.MethodGet,
		Path:        "/streams/{id}/drops",
		Tags:        []string{"streams"},
		Summary:     "List the drops in a stream",
	}, srv.streamDropsHandler)
}
