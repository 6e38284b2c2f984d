// Package api exposes the orchestrator, ledger, and log hub over HTTP:
// project CRUD, unit submission and queries, and live log streaming via SSE
// and websocket.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"

	forgeerrors "github.com/fwforge/fwforge/internal/errors"
	"github.com/fwforge/fwforge/internal/forge"
	"github.com/fwforge/fwforge/internal/ledger"
	"github.com/fwforge/fwforge/internal/logstream"
	"github.com/fwforge/fwforge/internal/metrics"
	"github.com/fwforge/fwforge/internal/project"
)

// Server is the HTTP front end. Construct with NewServer, then Start.
type Server struct {
	addr     string
	router   *chi.Mux
	server   *http.Server
	listener net.Listener

	projects     *project.Store
	orchestrator *forge.Orchestrator
	ledger       *ledger.Ledger
	hub          *logstream.Hub
}

// Options configure the server's timeouts and optional metrics exposure.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Registry, when set, is served at /metrics.
	Registry *prom.Registry
}

// NewServer wires routes over the core components.
func NewServer(addr string, projects *project.Store, orchestrator *forge.Orchestrator, ldg *ledger.Ledger, hub *logstream.Hub, opts Options) *Server {
	s := &Server{
		addr:         addr,
		router:       chi.NewRouter(),
		projects:     projects,
		orchestrator: orchestrator,
		ledger:       ldg,
		hub:          hub,
	}

	s.setupRoutes(opts.Registry)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// The SSE and websocket endpoints hold responses open
		// indefinitely, so no write deadline by default.
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes(registry *prom.Registry) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	if registry != nil {
		s.router.Method(http.MethodGet, "/metrics", metrics.HTTPHandler(registry))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/targets", s.handleListTargets)

		r.Post("/projects", s.handleRegisterProject)
		r.Post("/projects/import", s.handleImportProject)
		r.Get("/projects", s.handleListProjects)
		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Get("/readme", s.handleProjectReadme)
			r.Post("/target", s.handleSubmitSetTarget)
			r.Post("/build", s.handleSubmitBuild)
			r.Post("/clean", s.handleSubmitClean)
			r.Post("/size", s.handleSubmitSize)
			r.Post("/reconfigure", s.handleSubmitReconfigure)
		})

		r.Get("/units", s.handleListUnits)
		r.Get("/units/{id}", s.handleGetUnit)
		r.Post("/units/{id}/cancel", s.handleCancelUnit)
		r.Get("/units/{id}/manifest", s.handleUnitManifest)

		r.Get("/events", s.handleEventStream)
	})

	s.router.Handle("/ws/logs", s.logSocketHandler())
}

// Start binds the listener before returning so configuration errors (port
// in use) surface at startup, then serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}
	s.listener = listener
	return s.server.Serve(listener)
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr reports the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON serializes a success payload.
func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders any error through the category-to-status mapping.
func writeError(w http.ResponseWriter, err error) {
	status := forgeerrors.HTTPStatusFor(err)
	body := map[string]any{"error": err.Error()}
	if fe, ok := err.(*forgeerrors.ForgeError); ok {
		body["category"] = fe.Category
		body["error"] = fe.Message
		if len(fe.Context) > 0 {
			body["context"] = fe.Context
		}
	}
	writeJSON(w, status, body)
}
