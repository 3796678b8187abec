package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/hlsfetch/internal/models"
	"github.com/jmylchreest/hlsfetch/internal/pipeline"
	"github.com/jmylchreest/hlsfetch/internal/repository"
	"github.com/jmylchreest/hlsfetch/internal/resolver"
)

// JobHandler implements the job submission/status/cancellation endpoints
// described in §6: POST/GET /v1/jobs[/{id}], DELETE /v1/jobs/{id}.
type JobHandler struct {
	jobRepo              repository.JobRepository
	resolver             *resolver.Resolver
	registry             *pipeline.CancelRegistry
	maxConcurrentJobs    int
	hugeSegmentThreshold int
}

// NewJobHandler wires the job repository, the resolver used for the
// synchronous segment-count pre-check, the cancellation registry DELETE
// reaches into, and the two concurrency-gate tunables from
// config.RunnerConfig/config.FetchConfig.
func NewJobHandler(jobRepo repository.JobRepository, res *resolver.Resolver, registry *pipeline.CancelRegistry, maxConcurrentJobs, hugeSegmentThreshold int) *JobHandler {
	return &JobHandler{
		jobRepo:              jobRepo,
		resolver:             res,
		registry:             registry,
		maxConcurrentJobs:    maxConcurrentJobs,
		hugeSegmentThreshold: hugeSegmentThreshold,
	}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "createJob",
		Method:      "POST",
		Path:        "/v1/jobs",
		Summary:     "Submit a download job",
		Description: "Resolves the playlist synchronously to learn its segment count, then queues a download job",
		Tags:        []string{"Jobs"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/v1/jobs/{id}",
		Summary:     "Get job status",
		Tags:        []string{"Jobs"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      "DELETE",
		Path:        "/v1/jobs/{id}",
		Summary:     "Cancel a job",
		Description: "Marks the job cancelled and, if it is currently running, signals its pipeline to stop",
		Tags:        []string{"Jobs"},
	}, h.Cancel)
}

// CreateJobInput is the request body for submitting a job.
type CreateJobInput struct {
	Body struct {
		SourceURL  string `json:"source_url" doc:"Master or media playlist URL" example:"https://example.com/stream.m3u8"`
		OutputName string `json:"output_name" doc:"Output basename; the engine appends the extension" example:"my-video"`
	}
}

// CreateJobOutput is the 202 response to a successful submission.
type CreateJobOutput struct {
	Status int
	Body   struct {
		JobID string `json:"job_id"`
	}
}

// Create validates concurrency limits, resolves the playlist to learn its
// segment count, and queues the job. Both concurrency checks happen before
// the job row is created, so a rejected submission never occupies a slot.
func (h *JobHandler) Create(ctx context.Context, input *CreateJobInput) (*CreateJobOutput, error) {
	if input.Body.SourceURL == "" {
		return nil, huma.Error400BadRequest("source_url is required")
	}
	if input.Body.OutputName == "" {
		return nil, huma.Error400BadRequest("output_name is required")
	}

	running, err := h.jobRepo.GetRunning(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("checking running jobs", err)
	}
	if len(running) >= h.maxConcurrentJobs {
		return nil, huma.Error409Conflict("global job concurrency limit reached")
	}
	for _, j := range running {
		if j.IsLargeFile() {
			return nil, huma.Error409Conflict("a large file download is already in progress")
		}
	}

	pl, err := h.resolver.Resolve(ctx, input.Body.SourceURL)
	if err != nil {
		return nil, huma.Error400BadRequest(fmt.Sprintf("resolving playlist: %v", err))
	}

	if len(pl.Segments) > h.hugeSegmentThreshold && len(running) > 0 {
		return nil, huma.Error409Conflict("playlist is large and another job is already running")
	}

	job := &models.Job{
		SourceURL:    input.Body.SourceURL,
		OutputName:   input.Body.OutputName,
		SegmentCount: len(pl.Segments),
	}
	if err := h.jobRepo.Create(ctx, job); err != nil {
		return nil, huma.Error500InternalServerError("creating job", err)
	}

	resp := &CreateJobOutput{Status: 202}
	resp.Body.JobID = job.ID.String()
	return resp, nil
}

// GetJobInput names the job to look up.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput wraps a job status response.
type GetJobOutput struct {
	Body JobResponse
}

// Get returns a job's current status, phase, and percent.
func (h *JobHandler) Get(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid job id", err)
	}

	job, err := h.jobRepo.Get(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("fetching job", err)
	}
	if job == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.ID))
	}

	return &GetJobOutput{Body: JobFromModel(job)}, nil
}

// CancelJobInput names the job to cancel.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// CancelJobOutput is an empty 204 acknowledgement.
type CancelJobOutput struct {
	Status int
}

// Cancel marks the job cancelled in the job store and, if a pipeline is
// currently running it, trips its cancellation scope so in-flight fetches
// abort within the cooperative cancellation window (§5).
func (h *JobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid job id", err)
	}

	if err := h.jobRepo.Cancel(ctx, id); err != nil {
		return nil, huma.Error500InternalServerError("cancelling job", err)
	}
	h.registry.Cancel(input.ID)

	return &CancelJobOutput{Status: 204}, nil
}
