package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"genplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var generationRowColumns = []string{
	"id", "user_id", "prompt", "edit_prompt", "resolution", "generated_image_path",
	"original_image_paths", "conversation_history", "parent_generation_id", "status", "created_at", "updated_at",
}

func addGenerationRow(rows *sqlmock.Rows, id uuid.UUID, parent *uuid.UUID, history string) *sqlmock.Rows {
	var parentValue, editValue, historyValue interface{}
	if parent != nil {
		parentValue = parent.String()
		editValue = "make it blue"
	}
	if history != "" {
		historyValue = []byte(history)
	}
	return rows.AddRow(
		id.String(), "user-1", "a red shoe", editValue, "1024x1024", "generations/"+id.String()+".png",
		"{refs/a.png,refs/b.png}", historyValue, parentValue, "completed", time.Now(), time.Now(),
	)
}

type removedArtifacts struct {
	paths []string
	err   error
}

func (r *removedArtifacts) Remove(relPath string) error {
	r.paths = append(r.paths, relPath)
	return r.err
}

func TestCreateGeneration_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	parent := uuid.New()
	edit := "make it blue"
	g := &store.Generation{
		Prompt:             "a red shoe",
		EditPrompt:         &edit,
		Resolution:         "1024x1024",
		ParentGenerationID: &parent,
	}

	mock.ExpectExec(`INSERT INTO generations`).
		WithArgs(sqlmock.AnyArg(), nil, "a red shoe", "make it blue", "1024x1024", "",
			sqlmock.AnyArg(), nil, parent, store.GenerationStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateGeneration(context.Background(), nil, g); err != nil {
		t.Fatalf("CreateGeneration failed: %v", err)
	}
	if g.ID == uuid.Nil {
		t.Error("expected generation ID to be assigned")
	}
	if g.Status != store.GenerationStatusPending {
		t.Errorf("got status %s, want pending", g.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetGeneration_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	history := `[{"role":"user","text":"a red shoe"},{"role":"model","parts":[{"thoughtSignature":"abc"}]}]`

	mock.ExpectQuery(`FROM generations WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(addGenerationRow(sqlmock.NewRows(generationRowColumns), id, nil, history))

	g, err := s.GetGeneration(context.Background(), id)
	if err != nil {
		t.Fatalf("GetGeneration failed: %v", err)
	}
	if !g.IsRoot() {
		t.Error("expected root generation")
	}
	if g.UserID == nil || *g.UserID != "user-1" {
		t.Errorf("unexpected user: %v", g.UserID)
	}
	if len(g.OriginalImagePaths) != 2 || g.OriginalImagePaths[1] != "refs/b.png" {
		t.Errorf("unexpected original paths: %v", g.OriginalImagePaths)
	}
	if string(g.ConversationHistory) != history {
		t.Errorf("history changed: %s", g.ConversationHistory)
	}
	if !g.Editable() {
		t.Error("expected generation to be editable")
	}
}

func TestGetGeneration_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM generations WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(generationRowColumns))

	_, err := s.GetGeneration(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetEditChain_RootFirst(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	g1, g2, g3 := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM generations`).WithArgs(g3).
		WillReturnRows(addGenerationRow(sqlmock.NewRows(generationRowColumns), g3, &g2, `[]`))
	mock.ExpectQuery(`FROM generations`).WithArgs(g2).
		WillReturnRows(addGenerationRow(sqlmock.NewRows(generationRowColumns), g2, &g1, `[]`))
	mock.ExpectQuery(`FROM generations`).WithArgs(g1).
		WillReturnRows(addGenerationRow(sqlmock.NewRows(generationRowColumns), g1, nil, `[]`))

	chain, err := s.GetEditChain(context.Background(), g3)
	if err != nil {
		t.Fatalf("GetEditChain failed: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 generations, got %d", len(chain))
	}
	if chain[0].ID != g1 || chain[1].ID != g2 || chain[2].ID != g3 {
		t.Errorf("unexpected order: %v %v %v", chain[0].ID, chain[1].ID, chain[2].ID)
	}
	if chain[0].EditPrompt != nil {
		t.Error("root must not carry an edit prompt")
	}
}

func TestGetEditChain_DanglingParent(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	missing, g2 := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM generations`).WithArgs(g2).
		WillReturnRows(addGenerationRow(sqlmock.NewRows(generationRowColumns), g2, &missing, `[]`))
	mock.ExpectQuery(`FROM generations`).WithArgs(missing).
		WillReturnRows(sqlmock.NewRows(generationRowColumns))

	chain, err := s.GetEditChain(context.Background(), g2)
	if err != nil {
		t.Fatalf("GetEditChain failed: %v", err)
	}
	if len(chain) != 1 || chain[0].ID != g2 {
		t.Errorf("expected partial chain [g2], got %d entries", len(chain))
	}
}

func TestGetEditChain_CycleStops(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM generations`).WithArgs(a).
		WillReturnRows(addGenerationRow(sqlmock.NewRows(generationRowColumns), a, &b, `[]`))
	mock.ExpectQuery(`FROM generations`).WithArgs(b).
		WillReturnRows(addGenerationRow(sqlmock.NewRows(generationRowColumns), b, &a, `[]`))

	chain, err := s.GetEditChain(context.Background(), a)
	if err != nil {
		t.Fatalf("GetEditChain failed: %v", err)
	}
	if len(chain) != 2 {
		t.Errorf("expected walk to stop after 2 generations, got %d", len(chain))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetEditChain_UnknownTarget(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM generations`).
		WillReturnRows(sqlmock.NewRows(generationRowColumns))

	_, err := s.GetEditChain(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteGeneration_WritesHistory(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	history := json.RawMessage(`[{"role":"user","text":"hi"},{"role":"model","parts":[]}]`)

	mock.ExpectExec(`UPDATE generations SET status = \$1, generated_image_path = \$3, conversation_history = \$4`).
		WithArgs(store.GenerationStatusCompleted, id, "generations/out.png", string(history)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CompleteGeneration(context.Background(), nil, id, "generations/out.png", history); err != nil {
		t.Fatalf("CompleteGeneration failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFailGeneration_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE generations SET status = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.FailGeneration(context.Background(), nil, uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkGenerationProcessing(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectExec(`UPDATE generations SET status = \$1, updated_at = NOW\(\) WHERE id = \$2`).
		WithArgs(store.GenerationStatusProcessing, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkGenerationProcessing(context.Background(), nil, id); err != nil {
		t.Fatalf("MarkGenerationProcessing failed: %v", err)
	}
}

func TestDeleteGeneration_RemovesArtifact(t *testing.T) {
	artifacts := &removedArtifacts{}
	s, mock := newMockStore(t, WithArtifacts(artifacts))
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`DELETE FROM generations WHERE id = \$1 RETURNING`).
		WithArgs(id).
		WillReturnRows(addGenerationRow(sqlmock.NewRows(generationRowColumns), id, nil, `[]`))

	g, err := s.DeleteGeneration(context.Background(), id)
	if err != nil {
		t.Fatalf("DeleteGeneration failed: %v", err)
	}
	if g.ID != id {
		t.Errorf("got id %v, want %v", g.ID, id)
	}
	if len(artifacts.paths) != 1 || artifacts.paths[0] != "generations/"+id.String()+".png" {
		t.Errorf("unexpected removed artifacts: %v", artifacts.paths)
	}
}

func TestDeleteGeneration_NotFound(t *testing.T) {
	artifacts := &removedArtifacts{}
	s, mock := newMockStore(t, WithArtifacts(artifacts))
	defer s.db.Close()

	mock.ExpectQuery(`DELETE FROM generations`).
		WillReturnRows(sqlmock.NewRows(generationRowColumns))

	_, err := s.DeleteGeneration(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(artifacts.paths) != 0 {
		t.Error("artifact removed for a missing generation")
	}
}

// Requires a reachable database; set TEST_DATABASE_URL to run.
func TestCompleteGeneration_HistoryRoundTripIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()
	if err := Migrate(s.DB()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	g := &store.Generation{
		ID:         uuid.New(),
		Prompt:     "a red shoe",
		Resolution: "1024x1024",
		Status:     store.GenerationStatusPending,
	}
	if err := s.CreateGeneration(ctx, nil, g); err != nil {
		t.Fatalf("CreateGeneration failed: %v", err)
	}
	defer s.DeleteGeneration(ctx, g.ID)

	// Keys out of order, a duplicate key and spacing a normalizing store would rewrite.
	history := `[{"text":"a red shoe","role":"user"},` +
		`{"role":"model",  "parts":[{"thoughtSignature":"c2ln","text":"<ok>"}],"role":"model"}]`
	if err := s.CompleteGeneration(ctx, nil, g.ID, "generations/x.png", json.RawMessage(history)); err != nil {
		t.Fatalf("CompleteGeneration failed: %v", err)
	}

	got, err := s.GetGeneration(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGeneration failed: %v", err)
	}
	if string(got.ConversationHistory) != history {
		t.Errorf("history rewritten by the database\n got: %s\nwant: %s", got.ConversationHistory, history)
	}
}
