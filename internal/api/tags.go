package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

// tagRef selects a tag by id, or by name (created on first use).
type tagRef struct {
	ID    string `json:"id,omitempty"    format:"uuid" doc:"Existing tag id"`
	Name  string `json:"name,omitempty"  maxLength:"100" doc:"Tag name; created if missing"`
	Color string `json:"color,omitempty" pattern:"^#[0-9a-fA-F]{6}$" doc:"Color for a newly created tag"`
}

// tagSelectors converts refs to store selectors. A nil slice stays nil so
// PATCH can tell "leave tags alone" from "clear tags".
func tagSelectors(refs []tagRef) ([]store.TagSelector, error) {
	if refs == nil {
		return nil, nil
	}
	sels := make([]store.TagSelector, 0, len(refs))
	for _, ref := range refs {
		switch {
		case ref.ID != "":
			id, err := parseID("tag id", ref.ID)
			if err != nil {
				return nil, err
			}
			sels = append(sels, store.TagSelector{ID: &id})
		case ref.Name != "":
			sels = append(sels, store.TagSelector{Name: ref.Name, Color: ref.Color})
		default:
			return nil, huma.Error422UnprocessableEntity("tag needs an id or a name")
		}
	}
	return sels, nil
}

type listTagsOutput struct {
	Body struct {
		Items []store.Tag `json:"items"`
	}
}

func (srv *Server) listTagsHandler(ctx context.Context, _ *struct{}) (*listTagsOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := srv.store.ListTags(ctx, userID)
	if err != nil {
		return nil, storeError(ctx, "list tags", err)
	}
	out := &listTagsOutput{}
	out.Body.Items = tags
	return out, nil
}

type createTagInput struct {
	Body struct {
		Name  string `json:"name"            minLength:"1" maxLength:"100"`
		Color string `json:"color,omitempty" pattern:"^#[0-9a-fA-F]{6}$"`
	}
}

type tagOutput struct {
	Body *store.Tag
}

func (srv *Server) createTagHandler(ctx context.Context, input *createTagInput) (*tagOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	t, err := srv.store.CreateTag(ctx, userID, input.Body.Name, input.Body.Color)
	if err != nil {
		return nil, storeError(ctx, "create tag", err)
	}
	return &tagOutput{Body: t}, nil
}

type updateTagInput struct {
	ID   string `path:"id" format:"uuid"`
	Body struct {
		Name  *string `json:"name,omitempty"  minLength:"1" maxLength:"100"`
		Color *string `json:"color,omitempty" pattern:"^#[0-9a-fA-F]{6}$"`
	}
}

func (srv *Server) updateTagHandler(ctx context.Context, input *updateTagInput) (*tagOutput, error) {
	userID, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, err
	}
	t, err := srv.store.UpdateTag(ctx, userID, id, input.Body.Name, input.Body.Color)
	if err != nil {
		return nil, storeError(ctx, "update tag", err)
	}
	return &tagOutput{Body: t}, nil
}

func registerTagRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tags",
		Method:      http.MethodGet,
		Path:        "/tags",
		Tags:        []string{"tags"},
		Summary:     "List tags",
	}, srv.listTagsHandler)

	huma.Register(api, huma.Operation{
		OperationID:   "create-tag",
		Method:        http.MethodPost,
		Path:          "/tags",
		Tags:          []string{"tags"},
		Summary:       "Create a tag",
		DefaultStatus: http.StatusCreated,
	}, srv.createTagHandler)

	huma.Register(api, huma.Operation{
		OperationID: "update-tag",
		Method:      http.MethodPatch,
		Path:        "/tags/{id}",
		Tags:        []string{"tags"},
		Summary:     "Rename or recolor a tag",
	}, srv.updateTagHandler)
}
