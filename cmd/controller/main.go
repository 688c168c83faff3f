// Package main is the entry point for the genplane controller.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"genplane/internal/blob"
	"genplane/internal/config"
	"genplane/internal/controller"
	"genplane/internal/controller/handlers"
	"genplane/internal/controller/middleware"
	"genplane/internal/engine"
	"genplane/internal/events"
	"genplane/internal/events/redisrelay"
	"genplane/internal/logger"
	"genplane/internal/observability"
	"genplane/internal/store/postgres"
	"genplane/internal/stream"
	"genplane/internal/worker"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: genplane.yaml in current directory)")
	flag.Parse()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logr := logger.New(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Tracing. The propagator is installed either way so job payloads carry
	// the request's trace context.
	observability.SetPropagator()
	if cfg.TracingEnabled {
		shutdownTracer, err := observability.InitTracer(ctx, "genplane-controller", cfg.OTELEndpoint)
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

	// Storage
	artifacts := blob.LocalFS{Root: cfg.ArtifactDir}
	st, err := postgres.New(ctx, cfg.DatabaseURL,
		postgres.WithArtifacts(artifacts),
		postgres.WithQueuePolicy(cfg.MaxAttempts, cfg.VisibilityTimeout),
	)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer st.Close()

	if *migrateFlag {
		logr.Info("running database migrations")
		if err := postgres.Migrate(st.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		logr.Info("migrations completed")
	}

	if err := metrics.RegisterQueueDepth(st.Count); err != nil {
		logr.Warn("register queue depth metric", "error", err)
	}

	// Events. Workers in other processes reach the bus through a relay.
	bus := events.NewBus()
	defer bus.Close()

	switch cfg.EventTransport {
	case config.TransportPostgres:
		relay := postgres.NewRelay(cfg.DatabaseURL, postgres.DefaultEventChannel, bus, logr)
		go runRelay(ctx, "postgres", relay.Run, logr)
	case config.TransportRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		relay := redisrelay.NewRelay(rdb, cfg.RedisChannel, bus, logr)
		go runRelay(ctx, "redis", relay.Run, logr)
	}

	var agent *worker.Agent
	if cfg.EmbeddedWorker {
		eng := engine.NewHTTPClient(engine.Config{
			BaseURL: cfg.EngineURL,
			APIKey:  cfg.EngineAPIKey,
			Model:   cfg.EngineModel,
			Timeout: cfg.EngineTimeout,
		})
		agent = worker.New(st, st, eng, artifacts, bus, worker.AgentConfig{
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
		go func() {
			if err := agent.Run(ctx); err != nil {
				logr.Error("embedded worker stopped", "error", err)
			}
		}()
	}

	gateway := stream.NewGateway(st, bus, logr,
		stream.WithKeepAlive(cfg.StreamKeepAlive),
		stream.WithObserver(metrics),
	)
	h := handlers.New(st,
		handlers.WithStream(gateway),
		handlers.WithMetrics(metrics),
		handlers.WithLogger(logr),
	)

	opts := []controller.Option{
		controller.WithLogger(logr),
		controller.WithMetricsHandler(metricsHandler),
		controller.WithDrain(gateway.Shutdown),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, controller.WithRateLimiter(middleware.NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst)))
	}

	srv := controller.New(fmt.Sprintf(":%d", cfg.HTTPPort), h, opts...)
	if err := srv.Run(ctx); err != nil {
		logr.Error("server stopped", "error", err)
	}

	if agent != nil {
		logr.Info("waiting for embedded worker to drain")
		<-agent.Done()
	}
	logr.Info("controller exited")
}

// runRelay keeps a relay running until ctx ends, restarting it after errors.
func runRelay(ctx context.Context, name string, run func(context.Context) error, logr *slog.Logger) {
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("event relay stopped, restarting", "transport", name, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
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
