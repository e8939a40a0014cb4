// Package httpserver exposes the relay over HTTP: the tick ingress, session
// snapshots, a server-sent-events watch feed for out-of-process viewers, tick
// history, health and metrics.
package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/krakenlabs/kraken-relay/internal/ledger"
	"github.com/krakenlabs/kraken-relay/internal/metrics"
	"github.com/krakenlabs/kraken-relay/internal/session"
	"github.com/krakenlabs/kraken-relay/internal/tick"
	"github.com/krakenlabs/kraken-relay/internal/version"
)

// defaultPingInterval keeps idle watch streams alive through proxies that
// reap quiet connections.
const defaultPingInterval = 15 * time.Second

// Server exposes REST and SSE endpoints for the relay.
type Server struct {
	processor *tick.Processor
	store     session.Store
	ledger    ledger.Store       // optional
	metrics   *metrics.Collector // optional

	pingInterval time.Duration
	logger       *log.Logger
	logLevel     string
}

// New constructs a Server over the given processor and store.
func New(processor *tick.Processor, store session.Store) *Server {
	return &Server{
		processor:    processor,
		store:        store,
		pingInterval: defaultPingInterval,
		logger:       log.New(log.Writer(), "[relay/http] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLedger enables the tick history endpoint; nil disables it.
func (s *Server) SetLedger(store ledger.Store) {
	s.ledger = store
}

// SetMetrics enables watcher accounting and the /metrics endpoint; nil
// disables both.
func (s *Server) SetMetrics(collector *metrics.Collector) {
	s.metrics = collector
}

// SetPingInterval overrides the SSE keepalive cadence. Zero or negative
// disables keepalive pings.
func (s *Server) SetPingInterval(d time.Duration) {
	s.pingInterval = d
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Post("/onTick", s.handleTick)
	r.Options("/onTick", s.handleTickPreflight)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/sessions/{sessionID}", s.handleSessionGet)
		api.Get("/sessions/{sessionID}/watch", s.handleSessionWatch)
		api.Get("/sessions/{sessionID}/ticks", s.handleSessionTicks)
		api.Get("/organizations/{organizationID}/summary", s.handleOrganizationSummary)
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Info()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.respondError(w, http.StatusNotFound, errors.New("metrics disabled"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.metrics.Snapshot())))
}

// handleMethodNotAllowed mirrors the tick endpoint's JSON error shape so
// browser clients hitting it with the wrong verb get a parseable body.
func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	s.respondJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}
