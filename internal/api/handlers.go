package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mquevedo/evalflow/internal/process"
)

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &process.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, &process.ValidationError{Field: name, Reason: "not a valid UUID"}
	}
	return id, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID      string `json:"project_id"`
		SubmissionDate string `json:"submission_date"`
		Instrument     string `json:"instrument"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	submission, err := parseDate(req.SubmissionDate)
	if err != nil {
		writeError(w, &process.ValidationError{Field: "submission_date", Reason: "expected YYYY-MM-DD"})
		return
	}
	p, err := s.Tracker.Start(r.Context(), req.ProjectID, submission, process.Instrument(req.Instrument))
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidate(r.Context(), p.ProjectID)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleAdmissibility(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "processID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Result string `json:"result"`
		Date   string `json:"date"`
		Notes  string `json:"notes"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, &process.ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"})
		return
	}
	p, err := s.Tracker.RecordAdmissibility(r.Context(), id, process.AdmissibilityResult(req.Result), date, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidate(r.Context(), p.ProjectID)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "processID")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.Tracker.Advance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidate(r.Context(), p.ProjectID)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleOpenRound(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "processID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		IssueDate string                    `json:"issue_date"`
		Override  bool                      `json:"override"`
		Items     []process.ObservationItem `json:"items"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	issue, err := parseDate(req.IssueDate)
	if err != nil {
		writeError(w, &process.ValidationError{Field: "issue_date", Reason: "expected YYYY-MM-DD"})
		return
	}
	round, err := s.Tracker.OpenClarificationRound(r.Context(), id, issue, req.Items, req.Override)
	if err != nil {
		writeError(w, err)
		return
	}
	if p, err := s.Store.ProcessByID(r.Context(), id); err == nil {
		s.invalidate(r.Context(), p.ProjectID)
	}
	writeJSON(w, http.StatusCreated, round)
}

func (s *Server) handleRecordResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "roundID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		SubmissionDate string                 `json:"submission_date"`
		Items          []process.ResponseItem `json:"items"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	submission, err := parseDate(req.SubmissionDate)
	if err != nil {
		writeError(w, &process.ValidationError{Field: "submission_date", Reason: "expected YYYY-MM-DD"})
		return
	}
	resp, err := s.Tracker.RecordResponse(r.Context(), id, submission, req.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateRound(r, id)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRecordVerdict(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "roundID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Verdict        string                           `json:"verdict"`
		ReviewDate     string                           `json:"review_date"`
		Qualifications map[string]process.Qualification `json:"qualifications"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reviewDate, err := parseDate(req.ReviewDate)
	if err != nil {
		writeError(w, &process.ValidationError{Field: "review_date", Reason: "expected YYYY-MM-DD"})
		return
	}
	resp, err := s.Tracker.RecordVerdict(r.Context(), id, process.Verdict(req.Verdict), reviewDate, req.Qualifications)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateRound(r, id)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLapseRound(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "roundID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		AsOf string `json:"as_of"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asOf, err := parseDate(req.AsOf)
	if err != nil {
		writeError(w, &process.ValidationError{Field: "as_of", Reason: "expected YYYY-MM-DD"})
		return
	}
	round, err := s.Tracker.MarkRoundLapsed(r.Context(), id, asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateRound(r, id)
	writeJSON(w, http.StatusOK, round)
}

func (s *Server) handleResolution(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "processID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Resolution string `json:"resolution"`
		Date       string `json:"date"`
		Ref        string `json:"ref"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, &process.ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"})
		return
	}
	p, err := s.Tracker.RecordResolution(r.Context(), id, process.Resolution(req.Resolution), date, req.Ref)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidate(r.Context(), p.ProjectID)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	asOf := time.Now().UTC()
	if q := r.URL.Query().Get("as_of"); q != "" {
		parsed, err := parseDate(q)
		if err != nil {
			writeError(w, &process.ValidationError{Field: "as_of", Reason: "expected YYYY-MM-DD"})
			return
		}
		asOf = parsed
	}
	summary, err := s.Tracker.Summary(r.Context(), s.Ledger, projectID, asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCompleteness(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	version := s.Catalogs.Current().Version

	if s.Cache != nil {
		var cached json.RawMessage
		if s.Cache.Get(r.Context(), "completeness", projectID, version, &cached) {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}
	report, err := s.Completeness.Evaluate(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.Cache != nil && !report.Degraded {
		s.Cache.Set(r.Context(), "completeness", projectID, version, report)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	version := s.Catalogs.Current().Version

	if s.Cache != nil {
		var cached json.RawMessage
		if s.Cache.Get(r.Context(), "consistency", projectID, version, &cached) {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}
	result, err := s.Consistency.Evaluate(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.Cache != nil && !result.Degraded {
		s.Cache.Set(r.Context(), "consistency", projectID, version, result)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCatalogVersion(w http.ResponseWriter, _ *http.Request) {
	cat := s.Catalogs.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":           cat.Version,
		"requirement_rules": len(cat.Requirements),
		"consistency_rules": len(cat.Consistency),
		"loaded_at":         cat.LoadedAt,
	})
}

// invalidateRound resolves the round's project for cache invalidation.
func (s *Server) invalidateRound(r *http.Request, roundID uuid.UUID) {
	round, err := s.Store.RoundByID(r.Context(), roundID)
	if err != nil {
		return
	}
	if p, err := s.Store.ProcessByID(r.Context(), round.ProcessID); err == nil {
		s.invalidate(r.Context(), p.ProjectID)
	}
}
