// Package api serves read-only run status over HTTP: health, archived
// runs, and Prometheus metrics.
package api

import (
	"context"
	stdliberrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/inhabit/pkg/logging"
	"github.com/odvcencio/inhabit/pkg/report"
	"github.com/odvcencio/inhabit/pkg/store"
)

// DefaultAddress is where the status server binds when unconfigured.
const DefaultAddress = ":8871"

// Archive is the slice of the run store the server reads.
type Archive interface {
	Ping(ctx context.Context) error
	ListRuns(limit int) ([]store.RunSummary, error)
	GetRun(runID string) (*report.Report, error)
}

// Config configures the status server.
type Config struct {
	Address string
	Archive Archive
	Logger  *logging.Logger
}

// Server is the read-only status API.
type Server struct {
	archive    Archive
	log        *logging.Logger
	httpServer *http.Server
}

// NewServer builds the server and its routes.
func NewServer(cfg Config) *Server {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	s := &Server{archive: cfg.Archive, log: cfg.Logger}

	router := chi.NewRouter()
	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.log.Info(logging.CategoryAPI, "api_started", "status API listening", map[string]any{
			"addr": s.httpServer.Addr,
		})
		if err := s.httpServer.ListenAndServe(); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.archive != nil {
		if err := s.archive.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, stdliberrors.New("archive unavailable"))
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondError(w, http.StatusServiceUnavailable, stdliberrors.New("no archive configured"))
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	runs, err := s.archive.ListRuns(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondError(w, http.StatusServiceUnavailable, stdliberrors.New("no archive configured"))
		return
	}
	id := chi.URLParam(r, "id")
	rep, err := s.archive.GetRun(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if rep == nil {
		respondError(w, http.StatusNotFound, stdliberrors.New("run not found"))
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// parseIntDefault parses a positive integer with a fallback.
func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return def
}
