// Package server exposes the fixture lifecycle over HTTP so test runners
// outside Go can drive it. Hook calls are serialized: the orchestrator is
// not safe for concurrent use.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/allyourbase/seedcache/internal/backup"
	"github.com/allyourbase/seedcache/internal/config"
	"github.com/allyourbase/seedcache/internal/database"
	"github.com/allyourbase/seedcache/internal/fixtures"
	"github.com/allyourbase/seedcache/internal/hooks"
	"github.com/allyourbase/seedcache/internal/httputil"
	"github.com/allyourbase/seedcache/internal/metrics"
	"github.com/allyourbase/seedcache/internal/orchestrator"
	"github.com/allyourbase/seedcache/internal/refs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Fixtures is the orchestrator surface the server needs.
type Fixtures interface {
	hooks.Fixtures
	Status() orchestrator.Status
	Reference(name string) (refs.Entity, error)
}

var _ Fixtures = (*orchestrator.Orchestrator)(nil)

// Server is the HTTP hook server.
type Server struct {
	cfg      *config.Config
	router   *chi.Mux
	http     *http.Server
	logger   *slog.Logger
	fixtures Fixtures
	listener *hooks.Listener
	metrics  *metrics.Metrics // nil disables /metrics

	mu sync.Mutex
}

// New creates a Server with middleware and routes configured.
func New(cfg *config.Config, f Fixtures, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	lifetime, err := hooks.ParseLifetime(cfg.Fixtures.Lifetime)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:      cfg,
		router:   r,
		logger:   logger,
		fixtures: f,
		listener: hooks.NewListener(f, lifetime, logger),
		metrics:  m,
	}

	r.Get("/health", s.handleHealth)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(requireToken(cfg.Hooks.Token))

		r.Post("/hooks/exercise/before", s.handleExercise)
		r.Post("/hooks/{group}/{event}", s.handleGroup)
		r.Get("/status", s.handleStatus)
		r.Get("/references/{name}", s.handleReference)
	})

	return s, nil
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("hook server starting", "address", s.cfg.Address(), "lifetime", string(s.listener.Lifetime()))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	timeout := time.Duration(s.cfg.Hooks.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("shutting down hook server", "timeout", timeout)
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	st := s.fixtures.Status()
	s.mu.Unlock()
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	e, err := s.fixtures.Reference(name)
	s.mu.Unlock()

	if errors.Is(err, refs.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("reference %q not found", name))
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

// errorStatus maps orchestrator errors to HTTP status codes.
func errorStatus(err error) int {
	var schemaErr *database.SchemaOperationError
	var execErr *backup.ExecutionError
	switch {
	case errors.Is(err, orchestrator.ErrNotCached):
		return http.StatusConflict
	case errors.Is(err, fixtures.ErrUnknownUnit),
		errors.Is(err, fixtures.ErrDuplicateUnit),
		errors.Is(err, fixtures.ErrDependencyCycle),
		errors.Is(err, backup.ErrUnsupportedEngine):
		return http.StatusUnprocessableEntity
	case errors.As(err, &schemaErr), errors.As(err, &execErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
