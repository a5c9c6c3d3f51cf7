package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/metagram-net/metagram.net-sub000/internal/jobs"
	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

type hydrantsOutput struct {
	Body struct {
		Items []store.Hydrant `json:"items"`
	}
}

type hydrantOutput struct {
	Body *store.Hydrant
}

type hydrantIDInput struct {
	ID string `path:"id" format:"uuid"`
}

func (srv *Server) listHydrantsHandler(ctx context.Context, _ *struct{}) (*hydrantsOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	hs, err := srv.store.ListHydrants(ctx, userID)
	if err != nil {
		return nil, storeError(ctx, "list hydrants", err)
	}
	out := &hydrantsOutput{}
	out.Body.Items = hs
	return out, nil
}

type createHydrantInput struct {
	Body struct {
		Name   string   `json:"name"             minLength:"1" maxLength:"200"`
		URL    string   `json:"url"              minLength:"1" maxLength:"4096" doc:"Feed URL (RSS, Atom or JSON Feed)"`
		Active *bool    `json:"active,omitempty" doc:"Defaults to true"`
		Tags   []tagRef `json:"tags,omitempty"   doc:"Applied to every drop the hydrant creates"`
	}
}

func (srv *Server) createHydrantHandler(ctx context.Context, input *createHydrantInput) (*hydrantOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := validLink(input.Body.URL); err != nil {
		return nil, err
	}
	sels, err := tagSelectors(input.Body.Tags)
	if err != nil {
		return nil, err
	}
	active := true
	if input.Body.Active != nil {
		active = *input.Body.Active
	}
	h, err := srv.store.CreateHydrant(ctx, userID, store.CreateHydrantParams{
		Name:   input.Body.Name,
		URL:    input.Body.URL,
		Active: active,
		Tags:   sels,
	})
	if err != nil {
		return nil, storeError(ctx, "create hydrant", err)
	}
	return &hydrantOutput{Body: h}, nil
}

func (srv *Server) getHydrantHandler(ctx context.Context, input *hydrantIDInput) (*hydrantOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, err
	}
	h, err := srv.store.GetHydrant(ctx, userID, id)
	if err != nil {
		return nil, storeError(ctx, "get hydrant", err)
	}
	return &hydrantOutput{Body: h}, nil
}

type updateHydrantInput struct {
	ID   string `path:"id" format:"uuid"`
	Body struct {
		Name   *string  `json:"name,omitempty"   minLength:"1" maxLength:"200"`
		URL    *string  `json:"url,omitempty"    minLength:"1" maxLength:"4096"`
		Active *bool    `json:"active,omitempty"`
		Tags   []tagRef `json:"tags,omitempty"   doc:"Replaces the hydrant's tags when present"`
	}
}

func (srv *Server) updateHydrantHandler(ctx context.Context, input *updateHydrantInput) (*hydrantOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, err
	}
	if input.Body.URL != nil {
		if err := validLink(*input.Body.URL); err != nil {
			return nil, err
		}
	}
	sels, err := tagSelectors(input.Body.Tags)
	if err != nil {
		return nil, err
	}
	h, err := srv.store.UpdateHydrant(ctx, userID, id, store.UpdateHydrantParams{
		Name:   input.Body.Name,
		URL:    input.Body.URL,
		Active: input.Body.Active,
		Tags:   sels,
	})
	if err != nil {
		return nil, storeError(ctx, "update hydrant", err)
	}
	return &hydrantOutput{Body: h}, nil
}

func (srv *Server) deleteHydrantHandler(ctx context.Context, input *hydrantIDInput) (*struct{}, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, err
	}
	if err := srv.store.DeleteHydrant(ctx, userID, id); err != nil {
		return nil, storeError(ctx, "delete hydrant", err)
	}
	return nil, nil
}

type jobOutput struct {
	Body *store.Job
}

// hydrateHandler handles POST /api/v1/hydrants/{id}/hydrate. The fetch runs
// on the worker; the response carries the queued job.
func (srv *Server) hydrateHandler(ctx context.Context, input *hydrantIDInput) (*jobOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, err
	}
	if _, err := srv.store.GetHydrant(ctx, userID, id); err != nil {
		return nil, storeError(ctx, "get hydrant", err)
	}
	job, err := srv.queue.Push(ctx, srv.store.Queries, &jobs.HydrateOne{HydrantID: id}, srv.now())
	if err != nil {
		return nil, storeError(ctx, "enqueue hydrate", err)
	}
	return &jobOutput{Body: job}, nil
}

func registerHydrantRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-hydrants",
		Method:      http.MethodGet,
		Path:        "/hydrants",
		Tags:        []string{"hydrants"},
		Summary:     "List hydrants",
	}, srv.listHydrantsHandler)

	huma.Register(api, huma.Operation{
		OperationID:   "create-hydrant",
		Method:        http.MethodPost,
		Path:          "/hydrants",
		Tags:          []string{"hydrants"},
		Summary:       "Subscribe to a feed",
		DefaultStatus: http.StatusCreated,
	}, srv.createHydrantHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-hydrant",
		Method:      http.MethodGet,
		Path:        "/hydrants/{id}",
		Tags:        []string{"hydrants"},
		Summary:     "Get a hydrant",
	}, srv.getHydrantHandler)

	huma.Register(api, huma.Operation{
		OperationID: "update-hydrant",
		Method:      http.MethodPatch,
		Path:        "/hydrants/{id}",
		Tags:        []string{"hydrants"},
		Summary:     "Edit a hydrant",
	}, srv.updateHydrantHandler)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-hydrant",
		Method:        http.MethodDelete,
		Path:          "/hydrants/{id}",
		Tags:          []string{"hydrants"},
		Summary:       "Delete a hydrant; its drops are kept",
		DefaultStatus: http.StatusNoContent,
	}, srv.deleteHydrantHandler)

	huma.Register(api, huma.Operation{
		OperationID:   "hydrate-hydrant",
		Method:        http.MethodPost,
		Path:          "/hydrants/{id}/hydrate",
		Tags:          []string{"hydrants"},
		Summary:       "Queue an immediate fetch of the hydrant's feed",
		DefaultStatus: http.StatusAccepted,
	}, srv.hydrateHandler)
}
