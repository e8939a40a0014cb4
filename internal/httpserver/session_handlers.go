package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/krakenlabs/kraken-relay/internal/session"
)

// watchEvent is one SSE payload on the session watch feed. Exactly one field
// is populated per event.
type watchEvent struct {
	Record   *session.Record `json:"record,omitempty"`
	NotFound bool            `json:"notFound,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	rec, err := s.store.Get(r.Context(), sessionID)
	if err == session.ErrNotFound {
		s.respondError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

// handleSessionWatch streams session record versions as server-sent events.
// The initial event reflects the current state (notFound when the session
// does not exist yet); each store version after that produces one event, in
// order. The stream ends when the client disconnects or the feed errors.
func (s *Server) handleSessionWatch(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sub, err := s.store.Subscribe(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	defer sub.Unsubscribe()

	if s.metrics != nil {
		s.metrics.WatcherStarted()
		defer s.metrics.WatcherStopped()
	}
	s.debugf("watch open session=%s remote=%s", sessionID, r.RemoteAddr)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var ping <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			s.debugf("watch closed session=%s", sessionID)
			return
		case <-ping:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case d, open := <-sub.Deliveries():
			if !open {
				return
			}
			ev := watchEvent{}
			switch {
			case d.Err != nil:
				ev.Error = d.Err.Error()
			case d.Record == nil:
				ev.NotFound = true
			default:
				ev.Record = d.Record
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if d.Err != nil {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev watchEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// handleSessionTicks lists recent tick history for a session, newest first.
func (s *Server) handleSessionTicks(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusServiceUnavailable, errors.New("tick history disabled"))
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	entries, err := s.ledger.ListRecent(r.Context(), sessionID, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ticks": entries})
}

// handleOrganizationSummary aggregates tick activity across an organization's
// sessions.
func (s *Server) handleOrganizationSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusServiceUnavailable, errors.New("tick history disabled"))
		return
	}
	organizationID := chi.URLParam(r, "organizationID")
	sum, err := s.ledger.Summary(r.Context(), organizationID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"organizationId": organizationID,
		"summary":        sum,
	})
}
