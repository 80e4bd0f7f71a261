// Package api exposes the HTTP interface for the link validation service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ikun245/telegram-linkstools/internal/check"
	"github.com/ikun245/telegram-linkstools/internal/config"
	"github.com/ikun245/telegram-linkstools/internal/metrics"
	"github.com/ikun245/telegram-linkstools/internal/runs"
)

// Server wires HTTP handlers to the run manager.
type Server struct {
	router  chi.Router
	manager *runs.Manager
	logger  *zap.Logger
	cfg     config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(manager *runs.Manager, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager: manager,
		logger:  logger,
		cfg:     cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Get("/results", s.getResults)
				r.Post("/stop", s.stopRun)
			})
		})
		r.Post("/extract", s.extractLinks)
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

type submitRunRequest struct {
	// Links are raw link tokens: @usernames or t.me URLs.
	Links []string `json:"links"`
	// Text, when set, is scanned for link references and the matches are
	// appended to Links.
	Text string `json:"text"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	links := append([]string(nil), req.Links...)
	if req.Text != "" {
		links = append(links, check.ExtractLinks(req.Text)...)
	}
	if len(links) == 0 {
		writeError(w, http.StatusBadRequest, "at least one link is required")
		return
	}

	run, err := s.manager.StartRun(r.Context(), links)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": run.ID.String(),
		"status": run.Status,
		"links":  len(run.Links),
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := s.manager.GetRun(r.Context(), runID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	if _, err := s.manager.GetRun(r.Context(), runID); err != nil {
		writeStoreError(w, err)
		return
	}
	records, err := s.manager.Results(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch results")
		return
	}
	if records == nil {
		records = []check.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": records, "count": len(records)})
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	if err := s.manager.StopRun(r.Context(), runID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID.String(),
		"status": "stopping",
	})
}

type extractRequest struct {
	Text string `json:"text"`
}

func (s *Server) extractLinks(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	links := check.ExtractLinks(req.Text)
	if links == nil {
		links = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links, "count": len(links)})
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return uuid.Nil, false
	}
	return runID, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, check.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
