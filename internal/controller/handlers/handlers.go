// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"genplane/internal/logger"
	"genplane/internal/observability"
	"genplane/internal/store"
	"genplane/pkg/api"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultResolution is used when a generation request names none.
const DefaultResolution = "1024x1024"

var resolutionPattern = regexp.MustCompile(`^[1-9][0-9]{1,4}x[1-9][0-9]{1,4}$`)

// StoreFactory combines the interfaces needed for the controller to function.
type StoreFactory interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	Ping(ctx context.Context) error
	store.GenerationStore
	store.Queue
}

// JobStreamer serves a job's lifecycle as a server-sent event stream.
type JobStreamer interface {
	ServeJob(w http.ResponseWriter, r *http.Request, jobID uuid.UUID)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store    StoreFactory
	stream   JobStreamer
	metrics  *observability.Metrics
	logger   *slog.Logger
	validate *validator.Validate
}

// Option configures Handlers.
type Option func(*Handlers)

// WithStream sets the gateway behind GET /jobs/{jobId}/stream.
func WithStream(s JobStreamer) Option {
	return func(h *Handlers) { h.stream = s }
}

// WithMetrics records enqueued jobs.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handlers) { h.metrics = m }
}

// WithLogger sets the base logger. Request scoped fields are added per call.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// New creates a new Handlers instance with the given store dependency.
func New(s StoreFactory, opts ...Option) *Handlers {
	h := &Handlers{
		store:    s,
		logger:   slog.Default(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("resolution", func(fl validator.FieldLevel) bool {
		return resolutionPattern.MatchString(fl.Field().String())
	})
	return v
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Success: false,
		Error:   message,
		Code:    strconv.Itoa(code),
	})
}

// writeStoreError maps a store error to a response. Internal details are
// logged, never returned.
func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, notFound, http.StatusNotFound)
		return
	}
	logger.FromContext(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
	h.httpError(w, "Internal server error", http.StatusInternalServerError)
}

// decode reads a JSON body and validates it.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondJson(w, http.StatusBadRequest, api.ErrorResponse{
			Success: false,
			Error:   "Invalid request",
			Code:    strconv.Itoa(http.StatusBadRequest),
			Details: validationDetails(err),
		})
		return false
	}
	return true
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// pathID parses a path parameter. ok is false for anything but a UUID.
func pathID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	return id, err == nil
}

func toGenerationResponse(g *store.Generation) api.GenerationResponse {
	resp := api.GenerationResponse{
		ID:                 g.ID.String(),
		UserID:             g.UserID,
		Prompt:             g.Prompt,
		EditPrompt:         g.EditPrompt,
		Resolution:         g.Resolution,
		GeneratedImagePath: g.GeneratedImagePath,
		OriginalImagePaths: g.OriginalImagePaths,
		Status:             string(g.Status),
		Editable:           g.Editable(),
		CreatedAt:          g.CreatedAt,
		UpdatedAt:          g.UpdatedAt,
	}
	if resp.OriginalImagePaths == nil {
		resp.OriginalImagePaths = []string{}
	}
	if g.ParentGenerationID != nil {
		parent := g.ParentGenerationID.String()
		resp.ParentGenerationID = &parent
	}
	return resp
}
