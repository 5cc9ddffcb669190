// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/dedup"
	"github.com/jobradar/jobradar/internal/jobs"
	"github.com/jobradar/jobradar/internal/metrics"
	"github.com/jobradar/jobradar/internal/orchestrator"
	"github.com/jobradar/jobradar/internal/run"
)

const requestTimeout = 60 * time.Second

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// Server wires HTTP handlers to the orchestrator and tracker.
type Server struct {
	router  chi.Router
	orch    *orchestrator.Orchestrator
	tracker *run.Tracker
	engine  *dedup.Engine
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	orch *orchestrator.Orchestrator,
	tracker *run.Tracker,
	engine *dedup.Engine,
	auth AuthConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:    orch,
		tracker: tracker,
		engine:  engine,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(requestTimeout))
	if auth.Enabled {
		r.Use(apiKeyMiddleware(auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawl", s.crawlAll)
		r.Post("/crawl/{source}", s.crawlOne)
		r.Get("/sources", s.listSources)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/{job_id}", s.getRun)
		})
		r.Get("/stats/duplicates", s.duplicateStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// crawlAll triggers a run across every registered source. By default the run
// proceeds in the background; ?wait=1 blocks and returns the aggregate.
func (s *Server) crawlAll(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") == "1" {
		result := s.orch.CrawlAll(r.Context(), jobs.TriggerManual)
		writeJSON(w, http.StatusOK, result)
		return
	}
	go func() {
		s.orch.CrawlAll(detachedContext(r.Context()), jobs.TriggerManual)
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "started",
		"sources": s.orch.Sources(),
	})
}

func (s *Server) crawlOne(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if !s.knownSource(source) {
		writeError(w, http.StatusNotFound, "unknown source "+source)
		return
	}
	if r.URL.Query().Get("wait") == "1" {
		result, err := s.orch.CrawlOne(r.Context(), source, jobs.TriggerManual)
		if err != nil && result.JobID == "" {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}
	go func() {
		if _, err := s.orch.CrawlOne(detachedContext(r.Context()), source, jobs.TriggerManual); err != nil {
			s.logger.Warn("background crawl failed", zap.String("source", source), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "source": source})
}

func (s *Server) knownSource(source string) bool {
	for _, name := range s.orch.Sources() {
		if name == source {
			return true
		}
	}
	return false
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sources": s.orch.Sources()})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.tracker.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}
	runs, err := s.tracker.Query(r.Context(), source, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query runs failed")
		return
	}
	if runs == nil {
		runs = []jobs.CrawlJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) duplicateStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "duplicate stats failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"by_method": stats})
}
