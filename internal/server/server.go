// Package server provides the HTTP surface: job submission, status, the SSE
// progress stream, metrics and system status.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/sweepd/internal/cache"
	"github.com/aristath/sweepd/internal/domain"
	"github.com/aristath/sweepd/internal/jobs"
	"github.com/aristath/sweepd/internal/observability"
)

// Config holds server configuration.
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool

	// SyncSweepThreshold caps the combination count accepted for synchronous
	// execution; larger sweeps always run asynchronously.
	SyncSweepThreshold int

	// SimulationTimeout is the per-bootstrap-batch timeout applied to
	// robustness requests that do not carry their own.
	SimulationTimeout time.Duration

	Jobs    *jobs.Manager
	Metrics *observability.Collector
	Cache   *cache.ResultCache
}

// Server is the HTTP server.
type Server struct {
	router        *chi.Mux
	server        *http.Server
	log           zerolog.Logger
	jobs          *jobs.Manager
	metrics       *observability.Collector
	cache         *cache.ResultCache
	syncThreshold int
	simTimeout    time.Duration
	startedAt     time.Time
}

// New creates the HTTP server with routes and middleware configured.
func New(cfg Config) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		log:           cfg.Log.With().Str("component", "server").Logger(),
		jobs:          cfg.Jobs,
		metrics:       cfg.Metrics,
		cache:         cfg.Cache,
		syncThreshold: cfg.SyncSweepThreshold,
		simTimeout:    cfg.SimulationTimeout,
		startedAt:     time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: the SSE stream stays open for the whole job.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if devMode {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/sweeps", s.handleSubmitSweep)
		r.Get("/jobs", s.handleListJobs)
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Delete("/", s.handleCancelJob)
			r.Get("/stream", s.handleStreamJob)
		})
		r.Get("/system/status", s.handleSystemStatus)
	})

	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP statuses and always emits the
// structured {error: {kind, message}} body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	de := domain.AsError(err)

	status := http.StatusInternalServerError
	switch de.Kind {
	case domain.KindConfiguration:
		status = http.StatusBadRequest
	case domain.KindDataUnavailable:
		status = http.StatusNotFound
	}

	s.writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"kind":    string(de.Kind),
			"message": de.Message,
		},
	})
}
