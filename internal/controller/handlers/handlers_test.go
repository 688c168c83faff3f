package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"genplane/internal/store"

	"github.com/google/uuid"
)

// Mock transaction
type mockTx struct {
	committed bool
}

func (m *mockTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (m *mockTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (m *mockTx) Commit() error {
	m.committed = true
	return nil
}

func (m *mockTx) Rollback() error { return nil }

// Mock Store
type mockStore struct {
	beginTxErr error
	commitTx   *mockTx
	pingErr    error

	// Generation Hooks
	generations   map[uuid.UUID]*store.Generation
	getGenErr     error
	createGenErr  error
	chainResp     []store.Generation
	chainErr      error
	deleteGenErr  error
	createdGens   []*store.Generation
	deletedGenIDs []uuid.UUID

	// Queue Hooks
	jobs       map[uuid.UUID]*store.Job
	getJobErr  error
	enqueueErr error
	enqueued   []*store.Job
	countResp  int64
	countErr   error
}

func newMockStore() *mockStore {
	return &mockStore{
		generations: make(map[uuid.UUID]*store.Generation),
		jobs:        make(map[uuid.UUID]*store.Job),
	}
}

func (m *mockStore) BeginTx(ctx context.Context) (store.Tx, error) {
	if m.beginTxErr != nil {
		return nil, m.beginTxErr
	}
	m.commitTx = &mockTx{}
	return m.commitTx, nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) CreateGeneration(ctx context.Context, tx store.DBTransaction, g *store.Generation) error {
	if m.createGenErr != nil {
		return m.createGenErr
	}
	m.createdGens = append(m.createdGens, g)
	return nil
}

func (m *mockStore) GetGeneration(ctx context.Context, id uuid.UUID) (*store.Generation, error) {
	if m.getGenErr != nil {
		return nil, m.getGenErr
	}
	g, ok := m.generations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g, nil
}

func (m *mockStore) GetEditChain(ctx context.Context, id uuid.UUID) ([]store.Generation, error) {
	if m.chainErr != nil {
		return nil, m.chainErr
	}
	return m.chainResp, nil
}

func (m *mockStore) MarkGenerationProcessing(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	return nil
}

func (m *mockStore) CompleteGeneration(ctx context.Context, tx store.DBTransaction, id uuid.UUID, outputPath string, history json.RawMessage) error {
	return nil
}

func (m *mockStore) FailGeneration(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	return nil
}

func (m *mockStore) DeleteGeneration(ctx context.Context, id uuid.UUID) (*store.Generation, error) {
	if m.deleteGenErr != nil {
		return nil, m.deleteGenErr
	}
	g, ok := m.generations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.deletedGenIDs = append(m.deletedGenIDs, id)
	return g, nil
}

func (m *mockStore) Enqueue(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

func (m *mockStore) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	if m.getJobErr != nil {
		return nil, m.getJobErr
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j, nil
}

func (m *mockStore) DequeueBatch(ctx context.Context, limit int) ([]store.ClaimedJob, error) {
	return nil, nil
}

func (m *mockStore) UpdateProgress(ctx context.Context, jobID, leaseID uuid.UUID, progress store.Progress) error {
	return nil
}

func (m *mockStore) Complete(ctx context.Context, tx store.DBTransaction, jobID, leaseID uuid.UUID, result store.ReturnValue) error {
	return nil
}

func (m *mockStore) Fail(ctx context.Context, tx store.DBTransaction, jobID, leaseID uuid.UUID, reason string) error {
	return nil
}

func (m *mockStore) ExtendLease(ctx context.Context, jobID, leaseID uuid.UUID, visibleAfter time.Time) error {
	return nil
}

func (m *mockStore) ReapStalled(ctx context.Context) ([]store.Job, error) {
	return nil, nil
}

func (m *mockStore) Count(ctx context.Context) (int64, error) {
	return m.countResp, m.countErr
}

// mockStreamer records which job a stream was requested for.
type mockStreamer struct {
	jobID  uuid.UUID
	called bool
}

func (m *mockStreamer) ServeJob(w http.ResponseWriter, r *http.Request, jobID uuid.UUID) {
	m.called = true
	m.jobID = jobID
	w.WriteHeader(http.StatusOK)
}
