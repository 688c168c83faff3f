// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"genplane/internal/controller/handlers"
	"genplane/internal/controller/middleware"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	drain      []func(context.Context) error
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	metrics     http.Handler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
	drain       []func(context.Context) error
}

// WithMetricsHandler exposes h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(c *serverConfig) { c.metrics = h }
}

// WithRateLimiter limits the endpoints that enqueue work.
func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(c *serverConfig) { c.rateLimiter = rl }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *serverConfig) { c.logger = l }
}

// WithDrain registers fn to run before the HTTP server shuts down. Long lived
// streams must be closed here or Shutdown waits for them until its deadline.
func WithDrain(fn func(context.Context) error) Option {
	return func(c *serverConfig) { c.drain = append(c.drain, fn) }
}

// New creates a new controller server.
func New(addr string, h *handlers.Handlers, opts ...Option) *Server {
	cfg := &serverConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           routes(h, cfg),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       10 * time.Second,
			// Streams clear their own write deadline.
			WriteTimeout: 30 * time.Second,
		},
		logger: cfg.logger,
		drain:  cfg.drain,
	}
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// routes builds the controller's handler tree.
func routes(h *handlers.Handlers, cfg *serverConfig) http.Handler {
	limited := func(next http.HandlerFunc) http.Handler {
		if cfg.rateLimiter == nil {
			return next
		}
		return cfg.rateLimiter.Middleware()(next)
	}

	mux := http.NewServeMux()

	// Generations
	mux.Handle("POST /generations", limited(h.CreateGeneration))
	mux.HandleFunc("GET /generations/{id}", h.GetGeneration)
	mux.HandleFunc("DELETE /generations/{id}", h.DeleteGeneration)
	mux.Handle("POST /generations/{id}/edit", limited(h.EditGeneration))
	mux.HandleFunc("GET /generations/{id}/history", h.GetHistory)

	// Jobs
	mux.HandleFunc("GET /jobs/{jobId}", h.GetJob)
	mux.HandleFunc("GET /jobs/{jobId}/stream", h.StreamJob)

	// Probes
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if cfg.metrics != nil {
		mux.Handle("GET /metrics", cfg.metrics)
	}

	return middleware.RequestLogger(cfg.logger)(middleware.UserID(mux))
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		s.logger.Info("controller listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown runs the drain hooks, then gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, fn := range s.drain {
		if err := fn(ctx); err != nil {
			s.logger.Warn("drain before shutdown failed", "error", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}
