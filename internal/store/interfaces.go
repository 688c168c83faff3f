package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// GenerationStore handles the persistence of generations and their lineage.
type GenerationStore interface {
	// CreateGeneration inserts a generation in the pending state.
	CreateGeneration(ctx context.Context, tx DBTransaction, g *Generation) error

	// GetGeneration returns a generation by its ID, or ErrNotFound.
	GetGeneration(ctx context.Context, id uuid.UUID) (*Generation, error)

	// GetEditChain returns the generations from the root to id, oldest first.
	// A missing ancestor ends the walk and yields the partial chain.
	GetEditChain(ctx context.Context, id uuid.UUID) ([]Generation, error)

	// MarkGenerationProcessing moves a pending generation to processing.
	MarkGenerationProcessing(ctx context.Context, tx DBTransaction, id uuid.UUID) error

	// CompleteGeneration records the output path and the full conversation history.
	CompleteGeneration(ctx context.Context, tx DBTransaction, id uuid.UUID, outputPath string, history json.RawMessage) error

	// FailGeneration marks the generation failed. Nothing else is written.
	FailGeneration(ctx context.Context, tx DBTransaction, id uuid.UUID) error

	// DeleteGeneration removes the generation, its job and its generated artifact.
	DeleteGeneration(ctx context.Context, id uuid.UUID) (*Generation, error)
}

// ArtifactRemover deletes stored artifacts by relative path.
type ArtifactRemover interface {
	Remove(relPath string) error
}
