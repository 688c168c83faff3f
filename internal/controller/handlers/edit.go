package handlers

import (
	"net/http"
	"strings"
	"time"

	"genplane/internal/controller/middleware"
	"genplane/internal/history"
	"genplane/internal/logger"
	"genplane/internal/observability"
	"genplane/internal/store"
	"genplane/pkg/api"

	"github.com/google/uuid"
)

// EditGeneration handles POST /generations/{id}/edit.
// It creates a pending child of the generation and enqueues exactly one edit
// job for it. The parent must carry conversation history.
func (h *Handlers) EditGeneration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	parentID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Generation not found", http.StatusNotFound)
		return
	}

	var req api.EditGenerationRequest
	if !h.decode(w, r, &req) {
		return
	}

	parent, err := h.store.GetGeneration(ctx, parentID)
	if err != nil {
		h.writeStoreError(w, r, err, "Generation not found")
		return
	}

	hist, err := history.Decode(parent.ConversationHistory)
	if err != nil {
		h.writeStoreError(w, r, err, "")
		return
	}
	if hist.Len() == 0 {
		h.httpError(w, "Generation is not editable: it has no conversation history", http.StatusBadRequest)
		return
	}

	editPrompt := strings.TrimSpace(req.EditPrompt)
	if editPrompt == "" {
		h.httpError(w, "editPrompt is required", http.StatusBadRequest)
		return
	}

	userID := middleware.UserIDFromContext(ctx)
	if userID == nil {
		userID = parent.UserID
	}

	now := time.Now().UTC()
	child := &store.Generation{
		ID:                 uuid.New(),
		UserID:             userID,
		Prompt:             parent.Prompt,
		EditPrompt:         &editPrompt,
		Resolution:         parent.Resolution,
		OriginalImagePaths: parent.OriginalImagePaths,
		ParentGenerationID: &parent.ID,
		Status:             store.GenerationStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	job := &store.Job{
		ID:           uuid.New(),
		Type:         store.JobTypeEdit,
		GenerationID: child.ID,
		Payload: store.JobPayload{
			UserID:         userID,
			GenerationID:   child.ID,
			EditPrompt:     editPrompt,
			SourceImageRef: parent.GeneratedImagePath,
			CreatedAt:      now,
			Trace:          observability.InjectTrace(ctx),
		},
		State:     store.JobStateWaiting,
		CreatedAt: now,
	}

	if !h.createAndEnqueue(w, r, child, job) {
		return
	}

	logger.FromContext(ctx, h.logger).Debug("edit requested", "parent_id", parent.ID, "depth", hist.Len())
	h.respondJson(w, http.StatusOK, api.EditGenerationResponse{
		Success:      true,
		GenerationID: child.ID.String(),
		JobID:        job.ID.String(),
		Status:       string(child.Status),
		ParentID:     parent.ID.String(),
	})
}
