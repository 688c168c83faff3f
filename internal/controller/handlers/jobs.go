package handlers

import (
	"errors"
	"net/http"

	"genplane/internal/store"
	"genplane/pkg/api"

	"github.com/google/uuid"
)

// GetJob handles GET /jobs/{jobId}.
// It is the polling fallback for clients that cannot hold a stream open.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := pathID(r, "jobId")
	if !ok {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.writeStoreError(w, r, err, "Job not found")
		return
	}

	resp := api.JobResponse{
		Success: true,
		JobID:   job.ID.String(),
		State:   string(job.State),
		Progress: api.Progress{
			Stage:      job.Progress.Stage,
			Percentage: job.Progress.Percentage,
			Message:    job.Progress.Message,
			Details:    job.Progress.Details,
		},
		Data: api.JobData{
			Type:         string(job.Type),
			GenerationID: job.GenerationID.String(),
			CreatedAt:    job.Payload.CreatedAt,
		},
		FailedReason: job.FailedReason,
	}
	if job.ReturnValue != nil {
		resp.ReturnValue = &api.ReturnValue{
			GenerationID: job.ReturnValue.GenerationID.String(),
			OutputPath:   job.ReturnValue.OutputPath,
		}
	}

	gen, err := h.store.GetGeneration(ctx, job.GenerationID)
	switch {
	case err == nil:
		resp.Generation = &api.GenerationSnapshot{
			ID:         gen.ID.String(),
			Status:     string(gen.Status),
			OutputPath: gen.GeneratedImagePath,
		}
	case errors.Is(err, store.ErrNotFound):
		// Generation deleted while the job row was being read.
	default:
		h.writeStoreError(w, r, err, "")
		return
	}

	h.respondJson(w, http.StatusOK, resp)
}

// StreamJob handles GET /jobs/{jobId}/stream.
func (h *Handlers) StreamJob(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		h.httpError(w, "Streaming unavailable", http.StatusServiceUnavailable)
		return
	}

	// An unparsable id is streamed as uuid.Nil, which never names a job, so
	// the client gets the regular "Job not found" error message.
	jobID, ok := pathID(r, "jobId")
	if !ok {
		jobID = uuid.Nil
	}
	h.stream.ServeJob(w, r, jobID)
}
