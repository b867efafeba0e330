package api

import (
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// AnalyzeRequest is the POST /analyze payload.
type AnalyzeRequest struct {
	Utterance string                     `json:"utterance"`
	Context   models.ConversationContext `json:"context"`
	// Quick requests the lightweight sophistication check instead of a full analysis.
	Quick bool `json:"quick,omitempty"`
}

// PivotRequest is the POST /pivot payload.
type PivotRequest struct {
	Context  models.ConversationContext `json:"context"`
	Analysis *models.ResponseAnalysis   `json:"analysis"`
	// GenerateAssumptions attaches an assumption set when the decision is to pivot.
	GenerateAssumptions bool `json:"generate_assumptions,omitempty"`
}

// StyleRequest is the POST /style payload.
type StyleRequest struct {
	Context  models.ConversationContext `json:"context"`
	Analysis *models.ResponseAnalysis   `json:"analysis"`
}

// QuestionRequest is the POST /question payload.
type QuestionRequest struct {
	Context models.ConversationContext `json:"context"`
	Style   models.StyleProfile        `json:"style"`
}

// AssumptionsRequest is the POST /assumptions payload.
type AssumptionsRequest struct {
	Context  models.ConversationContext `json:"context"`
	Analysis *models.ResponseAnalysis   `json:"analysis"`
	Reason   string                     `json:"reason,omitempty"`
}

// analyzeHandler handles POST /analyze
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	engine := s.flow.Engine()

	if req.Quick {
		hint, err := engine.QuickSophisticationCheck(r.Context(), req.Utterance, req.Context.Domain)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(hint))
		return
	}

	analysis, err := engine.AnalyzeResponse(r.Context(), req.Utterance, req.Context)
	if err != nil {
		slog.Warn("analyzeHandler failed", "kind", models.ErrorKindOf(err), "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(analysis))
}

// pivotHandler handles POST /pivot
func (s *Server) pivotHandler(w http.ResponseWriter, r *http.Request) {
	var req PivotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Analysis == nil {
		writeError(w, models.NewValidationError("analysis", models.ErrMissingAnalysis))
		return
	}
	engine := s.flow.Engine()

	decision, err := engine.CheckPivot(req.Context, *req.Analysis)
	if err != nil {
		writeError(w, err)
		return
	}
	if decision.ShouldPivot && req.GenerateAssumptions {
		set, err := engine.GenerateAssumptions(r.Context(), req.Context, *req.Analysis, decision.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		decision.Assumptions = &set
	}
	writeJSONResponse(w, http.StatusOK, models.Success(decision))
}

// styleHandler handles POST /style
func (s *Server) styleHandler(w http.ResponseWriter, r *http.Request) {
	var req StyleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Analysis == nil {
		writeError(w, models.NewValidationError("analysis", models.ErrMissingAnalysis))
		return
	}
	sel, err := s.flow.Engine().SelectStyle(req.Context, *req.Analysis)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sel))
}

// questionHandler handles POST /question
func (s *Server) questionHandler(w http.ResponseWriter, r *http.Request) {
	var req QuestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q, err := s.flow.Engine().GenerateQuestion(r.Context(), req.Context, req.Style)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(q))
}

// assumptionsHandler handles POST /assumptions
func (s *Server) assumptionsHandler(w http.ResponseWriter, r *http.Request) {
	var req AssumptionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Analysis == nil {
		writeError(w, models.NewValidationError("analysis", models.ErrMissingAnalysis))
		return
	}
	set, err := s.flow.Engine().GenerateAssumptions(r.Context(), req.Context, *req.Analysis, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(set))
}
