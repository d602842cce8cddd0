package httpx

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
	"github.com/target/docflow/internal/service"
)

// JobHandlers serves job status, listings and maintenance for callers.
type JobHandlers struct {
	Svc    *service.JobService
	Logger *slog.Logger
}

type jobListResponse struct {
	UserID       string       `json:"user_id"`
	TotalJobs    int          `json:"total_jobs"`
	StatusFilter *string      `json:"status_filter"`
	Jobs         []*model.Job `json:"jobs"`
}

// Get handles GET /job/{id}. Jobs owned by someone else read as not found.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	job, err := h.Svc.GetJob(r.Context(), id, OwnerFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job.StatusResponse())
}

// List handles GET /jobs?status=&limit= for the calling owner.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())
	limit, err := listLimit(r)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	opts := model.ListByOwnerOptions{Owner: owner, Limit: limit}

	var filter *string
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := model.ParseJobStatus(raw)
		if err != nil {
			writeServiceError(w, r, h.Logger, apperrors.ValidationField("status",
				"Invalid status. Must be: created, ready, processing, completed, or failed"))
			return
		}
		opts.Status = &status
		filter = &raw
	}

	jobs, err := h.Svc.ListJobsByOwner(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, jobListResponse{
		UserID:       owner,
		TotalJobs:    len(jobs),
		StatusFilter: filter,
		Jobs:         jobs,
	})
}

// Delete handles DELETE /job/{id}. With a known owner only their own jobs are removed.
func (h *JobHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	deleted, err := h.Svc.DeleteJob(r.Context(), id, OwnerFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if !deleted {
		writeServiceError(w, r, h.Logger, apperrors.NotFoundf("Job %s not found", id))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Job %s deleted", id)})
}

// Reset handles POST /job/{id}/reset, returning a FAILED job to READY.
func (h *JobHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	job, err := h.Svc.GetJob(r.Context(), id, OwnerFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if job.Status != model.JobStatusFailed {
		writeServiceError(w, r, h.Logger, apperrors.Conflictf("Job %s is %s; only failed jobs can be reset", id, job.Status))
		return
	}

	reset, err := h.Svc.ResetFailedJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if !reset {
		// Lost a race with another reset or a delete.
		writeServiceError(w, r, h.Logger, apperrors.Conflictf("Job %s is no longer failed", id))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job_id": id, "reset": true})
}

func jobIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: fmt.Errorf("job id is required")})
		return "", false
	}
	return id, true
}
