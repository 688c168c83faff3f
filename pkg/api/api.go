// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// CreateGenerationRequest is the request body for a fresh generation.
type CreateGenerationRequest struct {
	Prompt             string   `json:"prompt" validate:"required,max=4000"`
	Resolution         string   `json:"resolution,omitempty" validate:"omitempty,resolution"`
	OriginalImagePaths []string `json:"originalImagePaths,omitempty" validate:"max=8,dive,required"`
}

// CreateGenerationResponse is returned once the pending generation and its job exist.
type CreateGenerationResponse struct {
	Success      bool   `json:"success"`
	GenerationID string `json:"generationId"`
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
}

// EditGenerationRequest is the request body for editing an existing generation.
type EditGenerationRequest struct {
	EditPrompt string `json:"editPrompt" validate:"max=4000"`
}

// EditGenerationResponse is returned once the edit's job is enqueued.
type EditGenerationResponse struct {
	Success      bool   `json:"success"`
	GenerationID string `json:"generationId"`
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	ParentID     string `json:"parentId"`
}

// Progress mirrors a worker's progress report.
type Progress struct {
	Stage      string          `json:"stage"`
	Percentage int             `json:"percentage"`
	Message    string          `json:"message,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// ReturnValue is present on completed jobs.
type ReturnValue struct {
	GenerationID string `json:"generationId"`
	OutputPath   string `json:"outputPath"`
}

// JobData describes what the job is producing.
type JobData struct {
	Type         string    `json:"type"`
	GenerationID string    `json:"generationId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// GenerationSnapshot is the persisted generation state attached to a job poll.
type GenerationSnapshot struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	OutputPath string `json:"outputPath,omitempty"`
}

// JobResponse is the response body for job polls.
type JobResponse struct {
	Success      bool                `json:"success"`
	JobID        string              `json:"jobId"`
	State        string              `json:"state"`
	Progress     Progress            `json:"progress"`
	Data         JobData             `json:"data"`
	ReturnValue  *ReturnValue        `json:"returnValue,omitempty"`
	FailedReason *string             `json:"failedReason,omitempty"`
	Generation   *GenerationSnapshot `json:"generation,omitempty"`
}

// GenerationResponse represents a generation in API responses.
type GenerationResponse struct {
	ID                 string    `json:"id"`
	UserID             *string   `json:"userId,omitempty"`
	Prompt             string    `json:"prompt"`
	EditPrompt         *string   `json:"editPrompt,omitempty"`
	Resolution         string    `json:"resolution"`
	GeneratedImagePath string    `json:"generatedImagePath,omitempty"`
	OriginalImagePaths []string  `json:"originalImagePaths"`
	ParentGenerationID *string   `json:"parentGenerationId,omitempty"`
	Status             string    `json:"status"`
	Editable           bool      `json:"editable"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// GetGenerationResponse wraps a single generation.
type GetGenerationResponse struct {
	Success    bool               `json:"success"`
	Generation GenerationResponse `json:"generation"`
}

// HistoryResponse is the edit chain of a generation, root first.
type HistoryResponse struct {
	Success    bool                 `json:"success"`
	Current    GenerationResponse   `json:"current"`
	History    []GenerationResponse `json:"history"`
	TotalEdits int                  `json:"totalEdits"`
}

// DeleteGenerationResponse confirms a delete.
type DeleteGenerationResponse struct {
	Success      bool   `json:"success"`
	GenerationID string `json:"generationId"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Stream message types.
const (
	StreamStatus    = "status"
	StreamProgress  = "progress"
	StreamCompleted = "completed"
	StreamFailed    = "failed"
	StreamError     = "error"
)

// StreamMessage is one server-sent event on a job stream.
type StreamMessage struct {
	Type         string       `json:"type"`
	JobID        string       `json:"jobId,omitempty"`
	State        string       `json:"state,omitempty"`
	Progress     *Progress    `json:"progress,omitempty"`
	ReturnValue  *ReturnValue `json:"returnValue,omitempty"`
	FailedReason string       `json:"failedReason,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Terminal reports whether the message ends the stream.
func (m StreamMessage) Terminal() bool {
	switch m.Type {
	case StreamCompleted, StreamFailed, StreamError:
		return true
	}
	return false
}
