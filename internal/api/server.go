// Package api exposes validation over HTTP: planning and running test
// sweeps, listing the catalog and scanned plugins, and streaming run
// progress as server-sent events.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clapcheck/clapcheck/internal/events"
	"github.com/clapcheck/clapcheck/internal/loader"
	"github.com/clapcheck/clapcheck/internal/report"
	"github.com/clapcheck/clapcheck/internal/scheduler"
)

// Validator plans and executes one validation run. The serve command wires
// the production pipeline; handler tests substitute a stub.
type Validator interface {
	Validate(ctx context.Context, opts scheduler.Options, workers int) *report.Run
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// Tokens are the accepted bearer tokens. Empty means no authentication.
	Tokens []string
	// DefaultTimeout applies to validate requests that do not set one.
	DefaultTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	validator Validator
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// scan builds the plugin index for GET /api/v1/plugins. Tests replace
	// it; production scans with native loading.
	scan func(paths ...string) *loader.Index
}

// New creates an API server. A nil hub gets a private one, which leaves
// /api/v1/events functional but idle.
func New(config Config, validator Validator, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 60 * time.Second
	}
	return &Server{
		config:    config,
		validator: validator,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
		scan:      scheduler.NewPlanner().Index,
	}
}

// Start runs the HTTP server until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // validate requests and SSE streams are long-lived
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/tests", s.handleListTests)
		r.Get("/plugins", s.handleListPlugins)
		r.Post("/validate", s.handleValidate)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
