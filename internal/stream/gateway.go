// Package stream serves a job's lifecycle as server-sent events.
//
// Each connection follows one job: it gets a snapshot of the job, then the
// job's bus events until a terminal one, then the server closes it. A client
// that disconnects early releases its listeners the same way.
//
// Every keep-alive tick re-reads the job, so a stream still ends when its
// terminal event was missed (emitted before the subscription, or never emitted
// because the job row was deleted with its generation).
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"genplane/internal/events"
	"genplane/internal/store"
	"genplane/pkg/api"

	"github.com/google/uuid"
)

const defaultKeepAlive = 15 * time.Second

// JobReader loads the job snapshot a stream starts from.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error)
}

// Observer is notified as streams open and close.
type Observer interface {
	StreamOpened(ctx context.Context)
	StreamClosed(ctx context.Context)
}

// Gateway bridges HTTP connections to the event bus.
type Gateway struct {
	jobs      JobReader
	bus       events.Subscriber
	logger    *slog.Logger
	keepAlive time.Duration
	observer  Observer

	mu       sync.Mutex
	closing  bool
	shutdown chan struct{}
	active   sync.WaitGroup
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithKeepAlive sets the interval of comment frames on idle streams.
func WithKeepAlive(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.keepAlive = d
		}
	}
}

// WithObserver reports stream open/close, typically to metrics.
func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

// NewGateway creates a gateway reading jobs from jobs and events from bus.
func NewGateway(jobs JobReader, bus events.Subscriber, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		jobs:      jobs,
		bus:       bus,
		logger:    logger,
		keepAlive: defaultKeepAlive,
		shutdown:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// register admits a new stream unless the gateway is shutting down.
func (g *Gateway) register() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.active.Add(1)
	return true
}

// Shutdown refuses new streams, tells every open stream to send a final error
// message and close, and waits for them or for ctx.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if !g.closing {
		g.closing = true
		close(g.shutdown)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeJob streams the lifecycle of jobID to w until a terminal event, client
// disconnect or gateway shutdown.
func (g *Gateway) ServeJob(w http.ResponseWriter, r *http.Request, jobID uuid.UUID) {
	ctx := r.Context()
	log := g.logger.With("job_id", jobID)

	sw, err := newWriter(w)
	if err != nil {
		log.Error("stream unsupported", "error", err)
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if !g.register() {
		sw.send(errorMessage(jobID, "server shutting down"))
		return
	}
	defer g.active.Done()

	if g.observer != nil {
		g.observer.StreamOpened(ctx)
		defer g.observer.StreamClosed(context.Background())
	}

	job, err := g.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sw.send(errorMessage(jobID, "Job not found"))
			return
		}
		log.Error("failed to load job for stream", "error", err)
		sw.send(errorMessage(jobID, "failed to load job"))
		return
	}

	if job.State.Terminal() {
		sw.send(terminalMessage(job))
		return
	}

	if err := sw.send(statusMessage(job)); err != nil {
		return
	}

	box := newMailbox()
	subs := g.subscribe(jobID, box)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			for _, sub := range subs {
				g.bus.Unsubscribe(sub)
			}
		})
	}
	defer cleanup()

	ticker := time.NewTicker(g.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("stream client disconnected")
			return

		case <-g.shutdown:
			sw.send(errorMessage(jobID, "server shutting down"))
			return

		case <-ticker.C:
			if msg, done := g.recheck(ctx, log, jobID); done {
				sw.send(msg)
				return
			}
			if err := sw.comment("keepalive"); err != nil {
				return
			}

		case <-box.ready:
			for _, msg := range box.drain() {
				if err := sw.send(msg); err != nil {
					return
				}
				if msg.Terminal() {
					cleanup()
					return
				}
			}
		}
	}
}

// recheck reloads the job and reports the final message when the stream has
// nothing left to wait for. Read errors keep the stream open.
func (g *Gateway) recheck(ctx context.Context, log *slog.Logger, jobID uuid.UUID) (api.StreamMessage, bool) {
	job, err := g.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorMessage(jobID, "Job not found"), true
		}
		if ctx.Err() == nil {
			log.Warn("stream job recheck failed", "error", err)
		}
		return api.StreamMessage{}, false
	}
	if job.State.Terminal() {
		return terminalMessage(job), true
	}
	return api.StreamMessage{}, false
}

// subscribe registers one jobId-filtered listener per event kind.
func (g *Gateway) subscribe(jobID uuid.UUID, box *mailbox) []*events.Subscription {
	listen := func(e events.Event) {
		if e.JobID != jobID {
			return
		}
		box.push(eventMessage(e))
	}

	return []*events.Subscription{
		g.bus.Subscribe(events.KindProgress, listen),
		g.bus.Subscribe(events.KindCompleted, listen),
		g.bus.Subscribe(events.KindFailed, listen),
	}
}

// writer frames messages as server-sent events.
type writer struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newWriter(w http.ResponseWriter) (*writer, error) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	// The server's WriteTimeout must not cut a long-lived stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return nil, err
	}

	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	return &writer{w: w, rc: rc}, nil
}

func (s *writer) send(msg api.StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *writer) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

func apiProgress(p store.Progress) *api.Progress {
	return &api.Progress{Stage: p.Stage, Percentage: p.Percentage, Message: p.Message, Details: p.Details}
}

func apiReturnValue(rv *store.ReturnValue) *api.ReturnValue {
	if rv == nil {
		return nil
	}
	return &api.ReturnValue{GenerationID: rv.GenerationID.String(), OutputPath: rv.OutputPath}
}

func statusMessage(job *store.Job) api.StreamMessage {
	return api.StreamMessage{
		Type:     api.StreamStatus,
		JobID:    job.ID.String(),
		State:    string(job.State),
		Progress: apiProgress(job.Progress),
	}
}

func terminalMessage(job *store.Job) api.StreamMessage {
	if job.State == store.JobStateCompleted {
		return api.StreamMessage{
			Type:        api.StreamCompleted,
			JobID:       job.ID.String(),
			ReturnValue: apiReturnValue(job.ReturnValue),
		}
	}
	msg := api.StreamMessage{Type: api.StreamFailed, JobID: job.ID.String()}
	if job.FailedReason != nil {
		msg.FailedReason = *job.FailedReason
	}
	return msg
}

func eventMessage(e events.Event) api.StreamMessage {
	msg := api.StreamMessage{JobID: e.JobID.String()}
	switch e.Kind {
	case events.KindProgress:
		msg.Type = api.StreamProgress
		if e.Progress != nil {
			msg.Progress = apiProgress(*e.Progress)
		}
	case events.KindCompleted:
		msg.Type = api.StreamCompleted
		msg.ReturnValue = apiReturnValue(e.ReturnValue)
	case events.KindFailed:
		msg.Type = api.StreamFailed
		msg.FailedReason = e.FailedReason
	}
	return msg
}

func errorMessage(jobID uuid.UUID, text string) api.StreamMessage {
	return api.StreamMessage{Type: api.StreamError, JobID: jobID.String(), Error: text}
}
