package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"genplane/internal/store"
	"genplane/pkg/api"

	"github.com/google/uuid"
)

func TestGetJob(t *testing.T) {
	jobID := uuid.New()
	genID := uuid.New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reason := "generation engine: quota exceeded"

	activeJob := &store.Job{
		ID:           jobID,
		Type:         store.JobTypeGenerate,
		GenerationID: genID,
		Payload:      store.JobPayload{GenerationID: genID, CreatedAt: created},
		State:        store.JobStateActive,
		Progress:     store.Progress{Stage: "generating", Percentage: 30},
	}

	tests := []struct {
		name           string
		idParam        string
		mockSetup      func(*mockStore)
		expectedStatus int
		check          func(t *testing.T, body string)
	}{
		{
			name:    "Active",
			idParam: jobID.String(),
			mockSetup: func(m *mockStore) {
				m.jobs[jobID] = activeJob
				m.generations[genID] = &store.Generation{ID: genID, Status: store.GenerationStatusProcessing}
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body string) {
				var resp api.JobResponse
				if err := json.Unmarshal([]byte(body), &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.State != "active" || resp.Progress.Stage != "generating" || resp.Progress.Percentage != 30 {
					t.Errorf("unexpected state/progress: %+v", resp)
				}
				if resp.Data.Type != "generate" || resp.Data.GenerationID != genID.String() || !resp.Data.CreatedAt.Equal(created) {
					t.Errorf("unexpected data: %+v", resp.Data)
				}
				if resp.Generation == nil || resp.Generation.Status != "processing" {
					t.Errorf("expected generation snapshot, got %+v", resp.Generation)
				}
				if resp.ReturnValue != nil || resp.FailedReason != nil {
					t.Error("active job must not carry a result")
				}
			},
		},
		{
			name:    "Completed",
			idParam: jobID.String(),
			mockSetup: func(m *mockStore) {
				job := *activeJob
				job.State = store.JobStateCompleted
				job.ReturnValue = &store.ReturnValue{GenerationID: genID, OutputPath: "generations/x.png"}
				m.jobs[jobID] = &job
				m.generations[genID] = &store.Generation{ID: genID, Status: store.GenerationStatusCompleted, GeneratedImagePath: "generations/x.png"}
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body string) {
				if !strings.Contains(body, `"returnValue":{"generationId":"`+genID.String()+`","outputPath":"generations/x.png"}`) {
					t.Errorf("expected return value, got %s", body)
				}
				if !strings.Contains(body, `"outputPath":"generations/x.png"}`) {
					t.Errorf("expected generation output path, got %s", body)
				}
			},
		},
		{
			name:    "Failed",
			idParam: jobID.String(),
			mockSetup: func(m *mockStore) {
				job := *activeJob
				job.State = store.JobStateFailed
				job.FailedReason = &reason
				m.jobs[jobID] = &job
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body string) {
				if !strings.Contains(body, `"failedReason":"generation engine: quota exceeded"`) {
					t.Errorf("expected failed reason, got %s", body)
				}
				if strings.Contains(body, `"generation":`) {
					t.Errorf("deleted generation must be omitted, got %s", body)
				}
			},
		},
		{
			name:           "Unknown Job",
			idParam:        "unknown",
			expectedStatus: http.StatusNotFound,
			check: func(t *testing.T, body string) {
				var resp api.ErrorResponse
				if err := json.Unmarshal([]byte(body), &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.Success || resp.Error != "Job not found" {
					t.Errorf("unexpected error body: %+v", resp)
				}
			},
		},
		{
			name:           "Missing Job",
			idParam:        uuid.NewString(),
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "Storage Error",
			idParam:        jobID.String(),
			mockSetup:      func(m *mockStore) { m.getJobErr = store.StorageError("get job", errors.New("conn reset")) },
			expectedStatus: http.StatusInternalServerError,
			check: func(t *testing.T, body string) {
				if strings.Contains(body, "conn reset") {
					t.Error("internal error details must not reach the client")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockStore()
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}
			h := New(mock)

			req := httptest.NewRequest(http.MethodGet, "/jobs/"+tt.idParam, nil)
			req.SetPathValue("jobId", tt.idParam)
			rr := httptest.NewRecorder()
			h.GetJob(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}
			if tt.check != nil {
				tt.check(t, rr.Body.String())
			}
		})
	}
}

func TestStreamJob(t *testing.T) {
	t.Run("Delegates To Gateway", func(t *testing.T) {
		streamer := &mockStreamer{}
		h := New(newMockStore(), WithStream(streamer))

		jobID := uuid.New()
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobID.String()+"/stream", nil)
		req.SetPathValue("jobId", jobID.String())
		h.StreamJob(httptest.NewRecorder(), req)

		if !streamer.called || streamer.jobID != jobID {
			t.Errorf("expected stream for %s, got %v", jobID, streamer.jobID)
		}
	})

	t.Run("Unparsable ID", func(t *testing.T) {
		streamer := &mockStreamer{}
		h := New(newMockStore(), WithStream(streamer))

		req := httptest.NewRequest(http.MethodGet, "/jobs/unknown/stream", nil)
		req.SetPathValue("jobId", "unknown")
		h.StreamJob(httptest.NewRecorder(), req)

		if !streamer.called || streamer.jobID != uuid.Nil {
			t.Errorf("expected nil job id, got %v", streamer.jobID)
		}
	})

	t.Run("No Gateway", func(t *testing.T) {
		h := New(newMockStore())

		rr := httptest.NewRecorder()
		h.StreamJob(rr, httptest.NewRequest(http.MethodGet, "/jobs/x/stream", nil))

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("got status %d, want 503", rr.Code)
		}
	})
}
