// Package main is the entry point for the genplane worker.
// The worker claims generation jobs, calls the engine and stores the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"genplane/internal/blob"
	"genplane/internal/config"
	"genplane/internal/engine"
	"genplane/internal/events"
	"genplane/internal/events/redisrelay"
	"genplane/internal/logger"
	"genplane/internal/observability"
	"genplane/internal/store/postgres"
	"genplane/internal/worker"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const metricsAddr = ":6162"

func main() {
	configPath := flag.String("config", "", "Path to config file (default: genplane.yaml in current directory)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	// The in-process bus has no subscribers here.
	if cfg.EventTransport == config.TransportLocal {
		log.Fatalf("EVENT_TRANSPORT must be postgres or redis for a standalone worker")
	}
	logr := logger.New(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Tracing
	observability.SetPropagator()
	if cfg.TracingEnabled {
		shutdownTracer, err := observability.InitTracer(ctx, "genplane-worker", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logr.Error("shutdown tracer", "error", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logr.Error("shutdown metrics", "error", err)
		}
	}()
	metrics, err := observability.NewMetrics()
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	artifacts := blob.LocalFS{Root: cfg.ArtifactDir}
	st, err := postgres.New(ctx, cfg.DatabaseURL,
		postgres.WithArtifacts(artifacts),
		postgres.WithQueuePolicy(cfg.MaxAttempts, cfg.VisibilityTimeout),
	)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer st.Close()

	var emitter events.Emitter
	switch cfg.EventTransport {
	case config.TransportPostgres:
		emitter = postgres.NewNotifier(st, postgres.DefaultEventChannel, logr)
	case config.TransportRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		emitter = redisrelay.NewPublisher(rdb, cfg.RedisChannel, logr)
	}

	eng := engine.NewHTTPClient(engine.Config{
		BaseURL: cfg.EngineURL,
		APIKey:  cfg.EngineAPIKey,
		Model:   cfg.EngineModel,
		Timeout: cfg.EngineTimeout,
	})

	agent := worker.New(st, st, eng, artifacts, emitter, worker.AgentConfig{
		ID:                  workerID(cfg.WorkerID),
		Concurrency:         cfg.WorkerConcurrency,
		PollInterval:        cfg.WorkerPollInterval,
		MaxBackoff:          cfg.WorkerMaxBackoff,
		HeartbeatInterval:   cfg.WorkerHeartbeatInterval,
		VisibilityExtension: cfg.VisibilityTimeout,
		EngineTimeout:       cfg.EngineTimeout,
		Secrets:             []string{cfg.EngineAPIKey},
		Logger:              logr,
		Metrics:             metrics,
	})

	// Dedicated metrics server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		logr.Info("worker metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logr.Error("metrics server", "error", err)
		}
	}()

	go func() {
		if err := agent.Run(ctx); err != nil {
			logr.Error("worker stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down worker, draining in-flight jobs")
	<-agent.Done()
	logr.Info("worker exited")
}

func workerID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil {
		host = "genplane"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
