package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/danielgtaylor/huma/v2"

	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

// validLink accepts absolute http(s) URLs only.
func validLink(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return huma.Error422UnprocessableEntity("url must be an absolute http or https URL")
	}
	return nil
}

// ── GET /drops ────────────────────────────────────────────────────────────────

type listDropsInput struct {
	Status string   `query:"status" enum:"unread,read,saved" doc:"Only drops in this status"`
	Tag    []string `query:"tag" doc:"Only drops carrying any of these tag ids"`
	Limit  int      `query:"limit" minimum:"1" maximum:"500" default:"100"`
}

type dropsOutput struct {
	Body struct {
		Items []store.Drop `json:"items"`
	}
}

func statusFilter(s string) *store.DropStatus {
	if s == "" {
		return nil
	}
	st := store.DropStatus(s)
	return &st
}

func (srv *Server) listDropsHandler(ctx context.Context, input *listDropsInput) (*dropsOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	f := store.DropFilter{Status: statusFilter(input.Status), Limit: input.Limit}
	for _, raw := range input.Tag {
		id, err := parseID("tag", raw)
		if err != nil {
			return nil, err
		}
		f.TagIDs = append(f.TagIDs, id)
	}
	drops, err := srv.store.ListDrops(ctx, userID, f)
	if err != nil {
		return nil, storeError(ctx, "list drops", err)
	}
	out := &dropsOutput{}
	out.Body.Items = drops
	return out, nil
}

// ── POST /drops ───────────────────────────────────────────────────────────────

type createDropInput struct {
	Body struct {
		Title *string  `json:"title,omitempty" maxLength:"1000"`
		URL   string   `json:"url"             minLength:"1" maxLength:"4096"`
		Tags  []tagRef `json:"tags,omitempty"`
	}
}

type dropOutput struct {
	Body *store.Drop
}

func (srv *Server) createDropHandler(ctx context.Context, input *createDropInput) (*dropOutput, error) {
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
	d, err := srv.store.CreateDrop(ctx, store.CreateDropParams{
		UserID: userID,
		Title:  input.Body.Title,
		URL:    input.Body.URL,
		Tags:   sels,
		Now:    srv.now(),
	})
	if err != nil {
		return nil, storeError(ctx, "create drop", err)
	}
	return &dropOutput{Body: d}, nil
}

// ── GET /drops/{id} ───────────────────────────────────────────────────────────

type dropIDInput struct {
	ID string `path:"id" format:"uuid"`
}

func (srv *Server) getDropHandler(ctx context.Context, input *dropIDInput) (*dropOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, err
	}
	d, err := srv.store.GetDrop(ctx, userID, id)
	if err != nil {
		return nil, storeError(ctx, "get drop", err)
	}
	return &dropOutput{Body: d}, nil
}

// ── PATCH /drops/{id} ─────────────────────────────────────────────────────────

type updateDropInput struct {
	ID   string `path:"id" format:"uuid"`
	Body struct {
		Title *string  `json:"title,omitempty" maxLength:"1000"`
		URL   *string  `json:"url,omitempty"   minLength:"1" maxLength:"4096"`
		Tags  []tagRef `json:"tags,omitempty"  doc:"Replaces the drop's tags when present"`
	}
}

func (srv *Server) updateDropHandler(ctx context.Context, input *updateDropInput) (*dropOutput, error) {
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
	d, err := srv.store.UpdateDrop(ctx, userID, id, store.UpdateDropParams{
		Title: input.Body.Title,
		URL:   input.Body.URL,
		Tags:  sels,
	})
	if err != nil {
		return nil, storeError(ctx, "update drop", err)
	}
	return &dropOutput{Body: d}, nil
}

// ── POST /drops/{id}/move ─────────────────────────────────────────────────────

type moveDropInput struct {
	ID   string `path:"id" format:"uuid"`
	Body struct {
		Status string `json:"status" enum:"unread,read,saved"`
	}
}

func (srv *Server) moveDropHandler(ctx context.Context, input *moveDropInput) (*dropOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, err
	}
	d, err := srv.store.MoveDrop(ctx, userID, id, store.DropStatus(input.Body.Status), srv.now())
	if err != nil {
		return nil, storeError(ctx, "move drop", err)
	}
	return &dropOutput{Body: d}, nil
}

func registerDropRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-drops",
		Method:      http.MethodGet,
		Path:        "/drops",
		Tags:        []string{"drops"},
		Summary:     "List drops, most recently moved first",
	}, srv.listDropsHandler)

	huma.Register(api, huma.Operation{
		OperationID:   "create-drop",
		Method:        http.MethodPost,
		Path:          "/drops",
		Tags:          []string{"drops"},
		Summary:       "Save a link as an unread drop",
		DefaultStatus: http.StatusCreated,
	}, srv.createDropHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-drop",
		Method:      http.MethodGet,
		Path:        "/drops/{id}",
		Tags:        []string{"drops"},
		Summary:     "Get a drop",
	}, srv.getDropHandler)

	huma.Register(api, huma.Operation{
		OperationID: "update-drop",
		Method:      http.MethodPatch,
		Path:        "/drops/{id}",
		Tags:        []string{"drops"},
		Summary:     "Edit a drop's title, URL or tags",
	}, srv.updateDropHandler)

	huma.Register(api, huma.Operation{
		OperationID: "move-drop",
		Method:      http.MethodPost,
		Path:        "/drops/{id}/move",
		Tags:        []string{"drops"},
		Summary:     "Change a drop's status",
	}, srv.moveDropHandler)
}
