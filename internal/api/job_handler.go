package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/enrich/internal/api/shared"
	"github.com/phrazzld/enrich/internal/job"
)

// JobService is the part of job.Service the HTTP layer needs.
type JobService interface {
	Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*job.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)
	List(ctx context.Context, f job.Filter) ([]*job.Job, error)
	Kinds() []string
}

// EnqueueJobRequest is the body of POST /api/jobs.
type EnqueueJobRequest struct {
	Kind    string          `json:"kind"    validate:"required,max=64"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// EnqueueJobResponse acknowledges an accepted job.
type EnqueueJobResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ListJobsResponse is the body of GET /api/jobs.
type ListJobsResponse struct {
	Jobs []*job.Job `json:"jobs"`
}

// KindsResponse is the body of GET /api/jobs/kinds.
type KindsResponse struct {
	Kinds []string `json:"kinds"`
}

// JobHandler serves the durable job endpoints.
type JobHandler struct {
	service JobService
	logger  *slog.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(service JobService, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  logger.With("component", "job_handler"),
	}
}

// Enqueue handles POST /api/jobs. The job runs asynchronously, so a stored
// job is answered with 202 Accepted.
func (h *JobHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	j, err := h.service.Enqueue(r.Context(), req.Kind, req.Payload)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to enqueue job")
		return
	}

	h.logger.Debug("job accepted", "job_id", j.ID, "job_kind", j.Kind, "trace_id", shared.GetTraceID(r.Context()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, EnqueueJobResponse{
		ID:        j.ID.String(),
		Kind:      j.Kind,
		Status:    string(j.Status),
		CreatedAt: j.CreatedAt,
	})
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid job ID", err)
		return
	}

	j, err := h.service.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get job")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, j)
}

// List handles GET /api/jobs?status=&kind=&limit=.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseJobFilter(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}

	jobs, err := h.service.List(r.Context(), f)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ListJobsResponse{Jobs: jobs})
}

// Kinds handles GET /api/jobs/kinds.
func (h *JobHandler) Kinds(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, KindsResponse{Kinds: h.service.Kinds()})
}
