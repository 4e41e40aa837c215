// Package api serves the local JSON and SSE control API used by the UI.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/tempmail-nexus/internal/inbox"
	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/monitor"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Deps are the core components behind the API.
type Deps struct {
	Session  *session.Store
	Inbox    *inbox.Service
	Poller   *inbox.Poller
	Mail     *mailapi.API
	Registry *catalog.Registry
	Monitor  *monitor.CallMonitor
	Logger   logrus.FieldLogger

	// ControlToken, when set, is required on every /api request.
	ControlToken string
}

// Server holds the router and the event fan-out.
type Server struct {
	deps   Deps
	log    logrus.FieldLogger
	events *Broadcaster
	// ctx outlives single requests; the poller runs on it.
	ctx context.Context
}

// NewServer wires handlers to deps. ctx bounds background work started
// through the API.
func NewServer(ctx context.Context, deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  logging.OrDiscard(deps.Logger),
		ctx:  ctx,
	}
	s.events = NewBroadcaster(s.log)
	if deps.Poller != nil {
		s.events.Attach(deps.Poller)
	}
	return s
}

// Events returns the broadcaster fed by the poller.
func (s *Server) Events() *Broadcaster { return s.events }

// Close detaches from the poller and disconnects event streams.
func (s *Server) Close() {
	s.events.Close()
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestID)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireToken(s.deps.ControlToken))

		r.Get("/version", s.handleVersion)

		r.Get("/session", s.handleSession)
		r.Post("/session/login", s.handleLogin)
		r.Post("/session/register", s.handleRegister)
		r.Post("/session/logout", s.handleLogout)
		r.Post("/session/switch", s.handleSwitch)

		r.Get("/accounts", s.handleAccounts)
		r.Delete("/accounts/{id}", s.handleDeleteAccount)

		r.Get("/messages", s.handleListMessages)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Patch("/messages/{id}", s.handleMarkSeen)
		r.Delete("/messages/{id}", s.handleDeleteMessage)

		r.Get("/mercure/token", s.handleMercureToken)

		r.Get("/domains", s.handleDomains)
		r.Get("/providers", s.handleProviders)
		r.Put("/providers/{id}/enabled", s.handleSetProviderEnabled)

		r.Get("/poller", s.handlePollerStatus)
		r.Put("/poller", s.handleSetPoller)
		r.Get("/events", s.handleEvents)

		r.Get("/monitor/logs", s.handleMonitorLogs)
		r.Get("/monitor/stats", s.handleMonitorStats)
		r.Delete("/monitor/logs", s.handleClearMonitorLogs)
	})
	return r
}

// requestID tags each request with an id from X-Request-ID or a fresh one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"request_id": logging.GetRequestID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
		}).Debug("🌐 Control API request")
	})
}
