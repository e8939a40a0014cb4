package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/krakenlabs/kraken-relay/internal/tick"
)

// writeCORS marks the tick endpoint callable from browser contexts. The
// original deployment fronts it with web apps on other origins, so the policy
// is wide open.
func writeCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) handleTickPreflight(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleTick runs one tick synchronously: the response is sent after the
// upstream stream has been fully relayed (or has failed).
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)

	var req tick.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Invalid JSON body",
		})
		return
	}

	res, err := s.processor.Process(r.Context(), req)
	if err != nil {
		s.respondTickError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": res.SessionID,
		"message":   res.Message,
	})
}

func (s *Server) respondTickError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	var verr *tick.ValidationError
	var autherr *tick.AuthorizationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		// The field list is fixed so clients can match on the message.
		message = "Missing required fields: sessionId, prompt, organizationId, userId"
	case errors.As(err, &autherr):
		status = http.StatusForbidden
	}
	s.respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
