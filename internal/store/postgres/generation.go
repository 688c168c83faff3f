package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"genplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const generationColumns = `id, user_id, prompt, edit_prompt, resolution, generated_image_path,
	original_image_paths, conversation_history, parent_generation_id, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGeneration(row rowScanner) (*store.Generation, error) {
	var (
		g       store.Generation
		userID  sql.NullString
		edit    sql.NullString
		paths   pq.StringArray
		history []byte
		parent  uuid.NullUUID
	)

	err := row.Scan(
		&g.ID, &userID, &g.Prompt, &edit, &g.Resolution, &g.GeneratedImagePath,
		&paths, &history, &parent, &g.Status, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		g.UserID = &userID.String
	}
	if edit.Valid {
		g.EditPrompt = &edit.String
	}
	if parent.Valid {
		id := parent.UUID
		g.ParentGenerationID = &id
	}
	g.OriginalImagePaths = []string(paths)
	if len(history) > 0 {
		g.ConversationHistory = json.RawMessage(history)
	}
	return &g, nil
}

// CreateGeneration inserts a generation row. Callers pass the transaction that
// also enqueues the generation's job.
func (s *Store) CreateGeneration(ctx context.Context, tx store.DBTransaction, g *store.Generation) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Status == "" {
		g.Status = store.GenerationStatusPending
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = g.CreatedAt
	if g.OriginalImagePaths == nil {
		g.OriginalImagePaths = []string{}
	}

	query := `
		INSERT INTO generations (id, user_id, prompt, edit_prompt, resolution, generated_image_path,
			original_image_paths, conversation_history, parent_generation_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	var parent interface{}
	if g.ParentGenerationID != nil {
		parent = *g.ParentGenerationID
	}

	_, err := s.getExecutor(tx).ExecContext(ctx, query,
		g.ID,
		g.UserID,
		g.Prompt,
		g.EditPrompt,
		g.Resolution,
		g.GeneratedImagePath,
		pq.Array(g.OriginalImagePaths),
		nullableJSON(g.ConversationHistory),
		parent,
		g.Status,
		g.CreatedAt,
		g.UpdatedAt,
	)
	return store.StorageError("create generation", err)
}

// GetGeneration returns a generation by its ID.
func (s *Store) GetGeneration(ctx context.Context, id uuid.UUID) (*store.Generation, error) {
	query := "SELECT " + generationColumns + " FROM generations WHERE id = $1"

	g, err := scanGeneration(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.StorageError("get generation", err)
	}
	return g, nil
}

// GetEditChain walks parent links from id up to the root and returns the chain
// root first. A missing ancestor or a repeated id ends the walk.
func (s *Store) GetEditChain(ctx context.Context, id uuid.UUID) ([]store.Generation, error) {
	var chain []store.Generation
	seen := make(map[uuid.UUID]bool)

	current := id
	for {
		g, err := s.GetGeneration(ctx, current)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) && len(chain) > 0 {
				break
			}
			return nil, err
		}

		seen[g.ID] = true
		chain = append(chain, *g)

		if g.ParentGenerationID == nil || seen[*g.ParentGenerationID] {
			break
		}
		current = *g.ParentGenerationID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// MarkGenerationProcessing records that a worker has picked the generation up.
func (s *Store) MarkGenerationProcessing(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	return s.setGenerationStatus(ctx, tx, "mark generation processing", `
		UPDATE generations
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, store.GenerationStatusProcessing, id)
}

// CompleteGeneration stores the output path and the full conversation history.
func (s *Store) CompleteGeneration(ctx context.Context, tx store.DBTransaction, id uuid.UUID, outputPath string, history json.RawMessage) error {
	return s.setGenerationStatus(ctx, tx, "complete generation", `
		UPDATE generations
		SET status = $1, generated_image_path = $3, conversation_history = $4, updated_at = NOW()
		WHERE id = $2
	`, store.GenerationStatusCompleted, id, outputPath, nullableJSON(history))
}

// FailGeneration marks the generation failed. The reason lives on the job.
func (s *Store) FailGeneration(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	return s.setGenerationStatus(ctx, tx, "fail generation", `
		UPDATE generations
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, store.GenerationStatusFailed, id)
}

func (s *Store) setGenerationStatus(ctx context.Context, tx store.DBTransaction, op, query string, status store.GenerationStatus, id uuid.UUID, extra ...interface{}) error {
	args := append([]interface{}{status, id}, extra...)

	res, err := s.getExecutor(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return store.StorageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.StorageError(op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteGeneration removes the generation row (its job cascades) and then the
// generated artifact. Edits of the generation keep their dangling parent link.
func (s *Store) DeleteGeneration(ctx context.Context, id uuid.UUID) (*store.Generation, error) {
	query := "DELETE FROM generations WHERE id = $1 RETURNING " + generationColumns

	g, err := scanGeneration(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.StorageError("delete generation", err)
	}

	if s.artifacts != nil && g.GeneratedImagePath != "" {
		if err := s.artifacts.Remove(g.GeneratedImagePath); err != nil {
			return g, store.StorageError("remove generation artifact", err)
		}
	}
	return g, nil
}
