package handlers

import (
	"net/http"
	"strings"
	"time"

	"genplane/internal/controller/middleware"
	"genplane/internal/logger"
	"genplane/internal/observability"
	"genplane/internal/store"
	"genplane/pkg/api"

	"github.com/google/uuid"
)

// CreateGeneration handles POST /generations.
// It records a pending generation and enqueues its job in one transaction.
// The engine is never called on the request path.
func (h *Handlers) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateGenerationRequest
	if !h.decode(w, r, &req) {
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		h.httpError(w, "prompt is required", http.StatusBadRequest)
		return
	}

	resolution := req.Resolution
	if resolution == "" {
		resolution = DefaultResolution
	}

	now := time.Now().UTC()
	userID := middleware.UserIDFromContext(ctx)

	gen := &store.Generation{
		ID:                 uuid.New(),
		UserID:             userID,
		Prompt:             prompt,
		Resolution:         resolution,
		OriginalImagePaths: req.OriginalImagePaths,
		Status:             store.GenerationStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	job := &store.Job{
		ID:           uuid.New(),
		Type:         store.JobTypeGenerate,
		GenerationID: gen.ID,
		Payload: store.JobPayload{
			UserID:       userID,
			GenerationID: gen.ID,
			CreatedAt:    now,
			Trace:        observability.InjectTrace(ctx),
		},
		State:     store.JobStateWaiting,
		CreatedAt: now,
	}

	if !h.createAndEnqueue(w, r, gen, job) {
		return
	}

	h.respondJson(w, http.StatusOK, api.CreateGenerationResponse{
		Success:      true,
		GenerationID: gen.ID.String(),
		JobID:        job.ID.String(),
		Status:       string(gen.Status),
	})
}

// createAndEnqueue writes the pending generation and its job atomically.
func (h *Handlers) createAndEnqueue(w http.ResponseWriter, r *http.Request, gen *store.Generation, job *store.Job) bool {
	ctx := r.Context()

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		h.writeStoreError(w, r, err, "")
		return false
	}
	defer tx.Rollback()

	if err := h.store.CreateGeneration(ctx, tx, gen); err != nil {
		h.writeStoreError(w, r, err, "")
		return false
	}

	if err := h.store.Enqueue(ctx, tx, job); err != nil {
		h.writeStoreError(w, r, err, "")
		return false
	}

	if err := tx.Commit(); err != nil {
		h.writeStoreError(w, r, store.StorageError("commit generation", err), "")
		return false
	}

	h.metrics.JobEnqueued(ctx, string(job.Type))
	logger.FromContext(ctx, h.logger).Info("job enqueued",
		"job_id", job.ID, "generation_id", gen.ID, "type", job.Type)
	return true
}

// GetGeneration handles GET /generations/{id}.
func (h *Handlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Generation not found", http.StatusNotFound)
		return
	}

	gen, err := h.store.GetGeneration(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err, "Generation not found")
		return
	}

	h.respondJson(w, http.StatusOK, api.GetGenerationResponse{
		Success:    true,
		Generation: toGenerationResponse(gen),
	})
}

// GetHistory handles GET /generations/{id}/history.
// The chain is returned root first and ends with the requested generation.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Generation not found", http.StatusNotFound)
		return
	}

	chain, err := h.store.GetEditChain(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err, "Generation not found")
		return
	}
	if len(chain) == 0 {
		h.httpError(w, "Generation not found", http.StatusNotFound)
		return
	}

	history := make([]api.GenerationResponse, 0, len(chain))
	for i := range chain {
		history = append(history, toGenerationResponse(&chain[i]))
	}

	h.respondJson(w, http.StatusOK, api.HistoryResponse{
		Success:    true,
		Current:    history[len(history)-1],
		History:    history,
		TotalEdits: len(history) - 1,
	})
}

// DeleteGeneration handles DELETE /generations/{id}.
// Descendant edits are kept and report a partial chain afterwards.
func (h *Handlers) DeleteGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Generation not found", http.StatusNotFound)
		return
	}

	if _, err := h.store.DeleteGeneration(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err, "Generation not found")
		return
	}

	logger.FromContext(r.Context(), h.logger).Info("generation deleted", "generation_id", id)
	h.respondJson(w, http.StatusOK, api.DeleteGenerationResponse{
		Success:      true,
		GenerationID: id.String(),
	})
}
