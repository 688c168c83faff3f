// Package worker contains the worker-specific logic for job execution.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"genplane/internal/engine"
	"genplane/internal/events"
	"genplane/internal/observability"
	"genplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                  string
	Concurrency         int
	PollInterval        time.Duration
	MaxBackoff          time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval   time.Duration // Interval between heartbeat calls (default: 2m)
	VisibilityExtension time.Duration // How long to extend visibility on heartbeat (default: 5m)
	EngineTimeout       time.Duration // Upper bound for one engine call (default: 3m)

	// Secrets are redacted from failure reasons before they are stored.
	Secrets []string
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Store is the part of the generation store a worker writes to.
type Store interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	GetGeneration(ctx context.Context, id uuid.UUID) (*store.Generation, error)
	MarkGenerationProcessing(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error
	CompleteGeneration(ctx context.Context, tx store.DBTransaction, id uuid.UUID, outputPath string, history json.RawMessage) error
	FailGeneration(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error
}

// Artifacts stores generated images and loads reference images.
type Artifacts interface {
	Put(relPath string, r io.Reader) (string, error)
	ReadAll(relPath string) ([]byte, string, error)
}

// Agent is the main worker agent that runs the pull-loop for job execution.
type Agent struct {
	queue     store.Queue
	store     Store
	engine    engine.Engine
	artifacts Artifacts
	emitter   events.Emitter
	config    AgentConfig
	logger    *slog.Logger
	done      chan struct{}
}

// New creates a new worker agent.
func New(q store.Queue, s Store, eng engine.Engine, artifacts Artifacts, emitter events.Emitter, config AgentConfig) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}

	if config.VisibilityExtension <= 0 {
		config.VisibilityExtension = 5 * time.Minute
	}

	if config.EngineTimeout <= 0 {
		config.EngineTimeout = 3 * time.Minute
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		queue:     q,
		store:     s,
		engine:    eng,
		artifacts: artifacts,
		emitter:   emitter,
		config:    config,
		logger:    logger.With("worker_id", config.ID),
		done:      make(chan struct{}),
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On cancellation it stops claiming new work and lets in-flight jobs finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("worker agent starting", "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for running jobs to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			a.reapStalled(ctx)

			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			jobs, err := a.queue.DequeueBatch(ctx, availableSlots)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Error("dequeue failed", "error", err)
				}
				continue
			}

			if len(jobs) == 0 {
				// Empty queue - increase backoff (exponential, capped at MaxBackoff)
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
			a.logger.Debug("claimed jobs", "count", len(jobs))

			for _, job := range jobs {
				sem <- struct{}{}

				wg.Add(1)
				go func(job store.ClaimedJob) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					a.processJob(ctx, job)
				}(job)
			}

			if len(jobs) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// reapStalled fails jobs whose worker disappeared and tells observers.
func (a *Agent) reapStalled(ctx context.Context) {
	reaped, err := a.queue.ReapStalled(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("reap stalled jobs failed", "error", err)
		}
		return
	}
	for _, job := range reaped {
		reason := ""
		if job.FailedReason != nil {
			reason = *job.FailedReason
		}
		a.logger.Warn("stalled job failed", "job_id", job.ID, "generation_id", job.GenerationID, "reason", reason)
		a.config.Metrics.JobFailed(ctx, string(job.Type))
		a.emitter.Emit(events.Event{Kind: events.KindFailed, JobID: job.ID, FailedReason: reason})
	}
}

// processJob runs one claimed job to a terminal state.
func (a *Agent) processJob(ctx context.Context, job store.ClaimedJob) {
	traceCtx := observability.ExtractTrace(ctx, job.Payload.Trace)

	tracer := otel.Tracer("worker-agent")
	spanCtx, span := tracer.Start(traceCtx, "process_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.type", string(job.Type)),
			attribute.String("generation.id", job.GenerationID.String()),
			attribute.Int("job.attempt", job.Attempts),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	if job.Payload.SourceImageRef != "" {
		span.SetAttributes(attribute.String("generation.source_image", job.Payload.SourceImageRef))
	}

	log := a.logger.With("job_id", job.ID, "generation_id", job.GenerationID, "type", job.Type)
	log.Info("processing job", "attempt", job.Attempts)

	// The job finishes even when the poll context is cancelled (graceful drain).
	workCtx := context.WithoutCancel(spanCtx)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, job.ID, job.LeaseID)

	result, err := a.execute(workCtx, job)
	if err == nil {
		log.Info("job completed", "output_path", result.OutputPath)
		a.config.Metrics.JobCompleted(workCtx, string(job.Type))
		a.emitter.Emit(events.Event{Kind: events.KindCompleted, JobID: job.ID, ReturnValue: result})
		return
	}

	span.RecordError(err)

	if errors.Is(err, store.ErrLeaseLost) {
		log.Warn("job lease lost, abandoning", "error", err)
		return
	}

	reason := sanitizeReason(err, a.config.Secrets)
	log.Error("job failed", "error", err)

	if ferr := a.fail(workCtx, job, reason); ferr != nil {
		if errors.Is(ferr, store.ErrLeaseLost) {
			log.Warn("job lease lost while failing, abandoning")
			return
		}
		log.Error("failed to record job failure", "error", ferr)
		return
	}

	a.config.Metrics.JobFailed(workCtx, string(job.Type))
	a.emitter.Emit(events.Event{Kind: events.KindFailed, JobID: job.ID, FailedReason: reason})
}

// fail marks the generation and the job failed in one transaction.
func (a *Agent) fail(ctx context.Context, job store.ClaimedJob, reason string) error {
	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := a.store.FailGeneration(ctx, tx, job.GenerationID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := a.queue.Fail(ctx, tx, job.ID, job.LeaseID, reason); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.StorageError("commit job failure", err)
	}
	return nil
}

// runHeartbeat refreshes the visibility timeout periodically while a job is executing.
// This prevents long-running jobs from being picked up by another worker.
func (a *Agent) runHeartbeat(ctx context.Context, jobID, leaseID uuid.UUID) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().Add(a.config.VisibilityExtension)
			if err := a.queue.ExtendLease(ctx, jobID, leaseID, visibleAfter); err != nil {
				a.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
				if errors.Is(err, store.ErrLeaseLost) {
					return
				}
			}
		}
	}
}

// report stores progress on the job and publishes it.
func (a *Agent) report(ctx context.Context, job store.ClaimedJob, stage string, percentage int, message string) error {
	p := store.Progress{Stage: stage, Percentage: percentage, Message: message}
	if err := a.queue.UpdateProgress(ctx, job.ID, job.LeaseID, p); err != nil {
		return fmt.Errorf("report %s: %w", stage, err)
	}
	a.emitter.Emit(events.Event{Kind: events.KindProgress, JobID: job.ID, Progress: &p})
	return nil
}
