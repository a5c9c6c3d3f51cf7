package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

type listJobsInput struct {
	State string `query:"state" enum:"pending,running,succeeded,failed"`
	Limit int    `query:"limit" minimum:"1" maximum:"500" default:"100"`
}

type jobsOutput struct {
	Body struct {
		Items []store.Job `json:"items"`
	}
}

func (srv *Server) listJobsHandler(ctx context.Context, input *listJobsInput) (*jobsOutput, error) {
	js, err := srv.store.ListJobs(ctx, store.JobFilter{State: input.State, Limit: input.Limit})
	if err != nil {
		return nil, storeError(ctx, "list jobs", err)
	}
	out := &jobsOutput{}
	out.Body.Items = js
	if out.Body.Items == nil {
		out.Body.Items = []store.Job{}
	}
	return out, nil
}

type jobIDInput struct {
	ID string `path:"id" format:"uuid"`
}

func (srv *Server) getJobHandler(ctx context.Context, input *jobIDInput) (*jobOutput, error) {
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, err
	}
	j, err := srv.store.GetJob(ctx, id)
	if err != nil {
		return nil, storeError(ctx, "get job", err)
	}
	return &jobOutput{Body: j}, nil
}

// registerJobRoutes exposes the shared queue for inspection. Jobs are not
// owned by a user, so any authenticated caller sees all of them.
func registerJobRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Tags:        []string{"jobs"},
		Summary:     "List background jobs, newest first",
	}, srv.listJobsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Tags:        []string{"jobs"},
		Summary:     "Get a background job and its error, if any",
	}, srv.getJobHandler)
}
