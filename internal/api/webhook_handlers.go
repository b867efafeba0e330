package api

import (
	"fmt"
	"log/slog"
	"net/http"
)

// emptyTwiML acknowledges an inbound message without replying inline; the
// next question is delivered through the outbox.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// twilioWebhookHandler handles POST /webhooks/twilio
//
// The sender's newest open session receives the message body as its next
// turn, or as feedback on the assumption set it was last sent.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("twilioWebhookHandler: inbound message received")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Error("twilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("twilioWebhookHandler: missing fields", "from", from, "bodyLen", len(body))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	recipient, err := s.channel.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("twilioWebhookHandler: invalid sender", "from", from, "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	sessionID, err := s.flow.SessionForRecipient(recipient)
	if err != nil {
		slog.Warn("twilioWebhookHandler: no open session", "recipient", recipient, "error", err)
		writeError(w, err)
		return
	}

	awaiting, err := s.flow.AwaitingFeedback(sessionID)
	if err != nil {
		slog.Error("twilioWebhookHandler: session lookup failed", "sessionID", sessionID, "error", err)
		writeError(w, err)
		return
	}
	if awaiting {
		_, refined, err := s.flow.RefineAssumptions(r.Context(), sessionID, body)
		if err != nil {
			slog.Error("twilioWebhookHandler: refine failed", "sessionID", sessionID, "error", err)
			writeError(w, err)
			return
		}
		slog.Debug("twilioWebhookHandler: assumptions refined", "sessionID", sessionID, "refined", refined)
	} else {
		result, err := s.flow.ProcessTurn(r.Context(), sessionID, body)
		if err != nil {
			slog.Error("twilioWebhookHandler: turn failed", "sessionID", sessionID, "error", err)
			writeError(w, err)
			return
		}
		slog.Debug("twilioWebhookHandler: turn processed", "sessionID", sessionID, "pivoted", result.Pivot.ShouldPivot)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}
