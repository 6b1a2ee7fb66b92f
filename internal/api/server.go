// Package api exposes the engine's operations as a JSON-over-HTTP service:
// one endpoint per state-mutating operation plus the three read-only
// reports. Validation and state errors map to 4xx; an optimistic-lock
// conflict maps to 409 and the caller retries after re-reading.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mquevedo/evalflow/internal/cache"
	"github.com/mquevedo/evalflow/internal/catalog"
	"github.com/mquevedo/evalflow/internal/completeness"
	"github.com/mquevedo/evalflow/internal/consistency"
	"github.com/mquevedo/evalflow/internal/process"
)

// Server wires the engine components behind the HTTP surface.
type Server struct {
	Tracker      *process.Tracker
	Ledger       *process.Ledger
	Store        process.Store
	Completeness *completeness.Evaluator
	Consistency  *consistency.Engine
	Catalogs     catalog.Provider
	Cache        *cache.Cache // nil disables report caching
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/catalog/version", s.handleCatalogVersion)

	r.Post("/processes", s.handleStart)
	r.Post("/processes/{processID}/admissibility", s.handleAdmissibility)
	r.Post("/processes/{processID}/advance", s.handleAdvance)
	r.Post("/processes/{processID}/rounds", s.handleOpenRound)
	r.Post("/processes/{processID}/resolution", s.handleResolution)
	r.Post("/rounds/{roundID}/responses", s.handleRecordResponse)
	r.Post("/rounds/{roundID}/verdict", s.handleRecordVerdict)
	r.Post("/rounds/{roundID}/lapse", s.handleLapseRound)

	r.Get("/projects/{projectID}/summary", s.handleSummary)
	r.Get("/projects/{projectID}/completeness", s.handleCompleteness)
	r.Get("/projects/{projectID}/consistency", s.handleConsistency)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalid  *process.InvalidTransitionError
		crossRef *process.CrossProcessReferenceError
		valErr   *process.ValidationError
	)
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Kind: "invalid_transition"})
	case errors.Is(err, process.ErrRoundLimitExceeded):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Kind: "round_limit_exceeded"})
	case errors.As(err, &crossRef):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "cross_process_reference"})
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"})
	case errors.Is(err, process.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Kind: "not_found"})
	case errors.Is(err, process.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Kind: "concurrent_modification"})
	case errors.Is(err, process.ErrAlreadyStarted):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Kind: "already_started"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Kind: "internal"})
	}
}

// invalidate drops cached reports for the project after a committed
// mutation. Best effort: a cache failure is logged, never surfaced.
func (s *Server) invalidate(ctx context.Context, projectID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, projectID); err != nil {
		log.Printf("invalidate reports for %s: %v", projectID, err)
	}
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
