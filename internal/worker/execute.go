package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"genplane/internal/blob"
	"genplane/internal/engine"
	"genplane/internal/history"
	"genplane/internal/store"
)

// maxReasonLength bounds the failure reason stored on a job.
const maxReasonLength = 500

// errNotEditable is returned when an edit's parent has no conversation history.
var errNotEditable = errors.New("parent generation is not editable")

// execute produces the job's image and records it. The returned value is what
// the job completed with.
func (a *Agent) execute(ctx context.Context, job store.ClaimedJob) (*store.ReturnValue, error) {
	gen, err := a.store.GetGeneration(ctx, job.GenerationID)
	if err != nil {
		return nil, fmt.Errorf("load generation: %w", err)
	}

	if err := a.store.MarkGenerationProcessing(ctx, nil, gen.ID); err != nil {
		return nil, fmt.Errorf("mark generation processing: %w", err)
	}

	if err := a.report(ctx, job, "loading", 10, "loading context"); err != nil {
		return nil, err
	}

	req, err := a.buildRequest(ctx, job, gen)
	if err != nil {
		return nil, err
	}

	if err := a.report(ctx, job, "generating", 30, "generating image"); err != nil {
		return nil, err
	}

	resp, err := a.generate(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := a.report(ctx, job, "saving", 90, "saving image"); err != nil {
		return nil, err
	}

	outputPath, err := a.artifacts.Put("generations/"+gen.ID.String()+blob.Extension(resp.MimeType), bytes.NewReader(resp.Image))
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	encoded, err := req.History.Append(req.Turn, resp.Turn).Encode()
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	result := store.ReturnValue{GenerationID: gen.ID, OutputPath: outputPath}

	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := a.store.CompleteGeneration(ctx, tx, gen.ID, outputPath, encoded); err != nil {
		return nil, err
	}
	if err := a.queue.Complete(ctx, tx, job.ID, job.LeaseID, result); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, store.StorageError("commit job completion", err)
	}

	return &result, nil
}

// buildRequest assembles the engine request. A generate job starts a new
// conversation; an edit continues its parent's conversation. Reference images
// are recorded on the user turn by path and loaded again for every request
// that replays that turn.
func (a *Agent) buildRequest(ctx context.Context, job store.ClaimedJob, gen *store.Generation) (engine.Request, error) {
	req := engine.Request{Resolution: gen.Resolution}

	switch job.Type {
	case store.JobTypeEdit:
		if gen.ParentGenerationID == nil {
			return req, fmt.Errorf("edit generation %s has no parent", gen.ID)
		}
		parent, err := a.store.GetGeneration(ctx, *gen.ParentGenerationID)
		if err != nil {
			return req, fmt.Errorf("load parent generation: %w", err)
		}
		h, err := history.Decode(parent.ConversationHistory)
		if err != nil {
			return req, fmt.Errorf("parent generation %s: %w", parent.ID, err)
		}
		if h.Len() == 0 {
			return req, errNotEditable
		}

		req.HistoryImages = make([][]engine.Image, h.Len())
		for i, t := range h {
			if req.HistoryImages[i], err = a.loadImages(t.ImagePaths()); err != nil {
				return req, err
			}
		}

		prompt := job.Payload.EditPrompt
		if prompt == "" && gen.EditPrompt != nil {
			prompt = *gen.EditPrompt
		}
		req.History = h
		req.Turn = history.UserTurn(prompt)

	default:
		images, err := a.loadImages(gen.OriginalImagePaths)
		if err != nil {
			return req, err
		}
		req.Turn = history.UserTurnWithImages(gen.Prompt, gen.OriginalImagePaths)
		req.ReferenceImages = images
	}

	return req, nil
}

func (a *Agent) loadImages(paths []string) ([]engine.Image, error) {
	var images []engine.Image
	for _, path := range paths {
		data, mimeType, err := a.artifacts.ReadAll(path)
		if err != nil {
			return nil, fmt.Errorf("load reference image %q: %w", path, err)
		}
		images = append(images, engine.Image{Data: data, MimeType: mimeType})
	}
	return images, nil
}

// generate calls the engine within the configured timeout.
func (a *Agent) generate(ctx context.Context, req engine.Request) (*engine.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.EngineTimeout)
	defer cancel()

	start := time.Now()
	resp, err := a.engine.Generate(ctx, req)
	a.config.Metrics.EngineCall(ctx, time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("generation engine: %w", err)
	}
	if len(resp.Image) == 0 {
		return nil, engine.ErrNoImage
	}
	return resp, nil
}

// sanitizeReason turns err into a reason safe to show to any poller.
func sanitizeReason(err error, secrets []string) string {
	reason := err.Error()
	for _, s := range secrets {
		if s != "" {
			reason = strings.ReplaceAll(reason, s, "[REDACTED]")
		}
	}
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength-3] + "..."
	}
	return reason
}
