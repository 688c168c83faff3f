// Package store contains the database layer for genplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Generation is the durable record of one produced (or attempted) image.
// A root generation has no ParentGenerationID; an edit points at the
// generation it was derived from.
type Generation struct {
	ID                  uuid.UUID
	UserID              *string
	Prompt              string
	EditPrompt          *string
	Resolution          string
	GeneratedImagePath  string
	OriginalImagePaths  []string
	ConversationHistory json.RawMessage // opaque, owned by the generation engine
	ParentGenerationID  *uuid.UUID
	Status              GenerationStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsRoot reports whether the generation starts an edit chain.
func (g *Generation) IsRoot() bool {
	return g.ParentGenerationID == nil
}

// Editable reports whether the generation carries the engine state an edit needs.
func (g *Generation) Editable() bool {
	return len(g.ConversationHistory) > 0 && string(g.ConversationHistory) != "null"
}

// GenerationStatus represents the persisted state of a generation.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// JobType distinguishes a fresh generation from an edit of an existing one.
type JobType string

const (
	JobTypeGenerate JobType = "generate"
	JobTypeEdit     JobType = "edit"
)

// JobState represents the queue-local state of a job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobPayload is the data a worker needs to produce the job's generation.
type JobPayload struct {
	UserID         *string           `json:"userId,omitempty"`
	GenerationID   uuid.UUID         `json:"generationId"`
	EditPrompt     string            `json:"editPrompt,omitempty"`
	SourceImageRef string            `json:"sourceImageRef,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	Trace          map[string]string `json:"trace,omitempty"`
}

// Progress is a worker-reported progress update. Details is free-form and
// specific to the worker or engine provider.
type Progress struct {
	Stage      string          `json:"stage"`
	Percentage int             `json:"percentage"`
	Message    string          `json:"message,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// ReturnValue is recorded on a completed job.
type ReturnValue struct {
	GenerationID uuid.UUID `json:"generationId"`
	OutputPath   string    `json:"outputPath"`
}

// Job is the queue-tracked unit of work. Exactly one job exists per generation.
type Job struct {
	ID           uuid.UUID
	Type         JobType
	GenerationID uuid.UUID
	Payload      JobPayload
	State        JobState
	Progress     Progress
	ReturnValue  *ReturnValue
	FailedReason *string
	Attempts     int
	LeaseID      *uuid.UUID
	VisibleAfter time.Time
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// ClaimedJob is a job handed to exactly one worker. LeaseID must accompany
// every write the worker makes to the job.
type ClaimedJob struct {
	Job
	LeaseID uuid.UUID
}
