package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/ElicitPipe/internal/messaging"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// sessionView is the GET /sessions/{id} payload.
type sessionView struct {
	State   models.ConversationState   `json:"state"`
	Context models.ConversationContext `json:"context"`
}

// refineView is the POST /sessions/{id}/assumptions/refine payload.
type refineView struct {
	Assumptions models.AssumptionSet `json:"assumptions"`
	Refined     bool                 `json:"refined"`
}

// startSessionHandler handles POST /sessions
func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("startSessionHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req models.StartSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("startSessionHandler validation failed", "error", err)
		writeError(w, err)
		return
	}

	if req.Recipient != "" {
		if s.channel == nil {
			writeError(w, models.NewValidationError("recipient", messaging.ErrNoChannel))
			return
		}
		canonical, err := s.channel.ValidateAndCanonicalizeRecipient(req.Recipient)
		if err != nil {
			slog.Warn("startSessionHandler recipient validation failed", "error", err)
			writeError(w, models.NewValidationError("recipient", err))
			return
		}
		req.Recipient = canonical
	}

	result, err := s.flow.StartSession(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(result))
}

// getSessionHandler handles GET /sessions/{id}
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, cc, err := s.flow.GetSession(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessionView{State: st, Context: cc}))
}

// listArtifactsHandler handles GET /sessions/{id}/artifacts
func (s *Server) listArtifactsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	artifacts, err := s.flow.Artifacts(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if artifacts == nil {
		artifacts = []models.TurnArtifact{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(artifacts))
}

// processTurnHandler handles POST /sessions/{id}/turns
func (s *Server) processTurnHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	slog.Debug("processTurnHandler invoked", "sessionID", id)

	var req models.TurnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.flow.ProcessTurn(r.Context(), id, req.Utterance)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Pivot.ShouldPivot {
		writeJSONResponse(w, http.StatusOK, models.Pivoted(result.Pivot.Reason, result))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// advanceStageHandler handles POST /sessions/{id}/stage
func (s *Server) advanceStageHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.StageTransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	st, err := s.flow.AdvanceStage(r.Context(), id, req.Stage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(st))
}

// refineAssumptionsHandler handles POST /sessions/{id}/assumptions/refine
func (s *Server) refineAssumptionsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.RefineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	set, refined, err := s.flow.RefineAssumptions(r.Context(), id, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(refineView{Assumptions: set, Refined: refined}))
}

// sessionMetricsHandler handles GET /sessions/{id}/metrics
func (s *Server) sessionMetricsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.aggregator.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(m))
}

// aggregateMetricsHandler handles GET /metrics/aggregate?from=&to=
func (s *Server) aggregateMetricsHandler(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		slog.Warn("aggregateMetricsHandler invalid window", "error", err)
		writeError(w, err)
		return
	}
	agg, err := s.aggregator.Aggregate(window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(agg))
}

// parseWindow reads optional RFC 3339 from/to query parameters.
func parseWindow(r *http.Request) (models.TimeWindow, error) {
	var window models.TimeWindow
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return window, models.NewValidationError("from", err)
		}
		window.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return window, models.NewValidationError("to", err)
		}
		window.To = t
	}
	return window, nil
}
