// Package api provides HTTP response utilities for ElicitPipe.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch models.ErrorKindOf(err) {
	case models.ErrorKindValidation:
		return http.StatusBadRequest
	case models.ErrorKindState:
		if errors.Is(err, models.ErrSessionNotFound) {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case models.ErrorKindGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a classified error envelope. Internal errors are
// not echoed to the caller.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		writeJSONResponse(w, status, models.NewAPIResponseBuilder().
			WithStatus(models.APIStatusError).
			WithErrorKind(models.ErrorKindOf(err)).
			WithMessage("Internal server error").
			Build())
		return
	}
	writeJSONResponse(w, status, models.ErrorFrom(err))
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("Server.decodeJSON: invalid JSON", "path", r.URL.Path, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.NewAPIResponseBuilder().
			WithStatus(models.APIStatusError).
			WithErrorKind(models.ErrorKindValidation).
			WithMessage("Invalid JSON format").
			Build())
		return false
	}
	return true
}
