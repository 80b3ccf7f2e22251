// Package httpapi implements AutoSage's HTTP surface binding the tool
// registry, execution engine, job store, and session manifold to the
// outside world. It is grounded on gateway.startHTTPServer: a single
// http.ServeMux assembled from per-concern handler groups, promhttp.Handler
// mounted alongside them, and a plain http.Server wrapping a net.Listener
// so callers can observe the bound address before Serve blocks.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autosage/autosage/internal/apierr"
	"github.com/autosage/autosage/internal/engine"
	"github.com/autosage/autosage/internal/jobs"
	"github.com/autosage/autosage/internal/observability"
	"github.com/autosage/autosage/internal/orchestrator"
	"github.com/autosage/autosage/internal/planner"
	"github.com/autosage/autosage/internal/requestid"
	"github.com/autosage/autosage/internal/session"
	"github.com/autosage/autosage/internal/toolreg"
)

// Version is stamped into /healthz and /version at build time by cmd/autosage.
var Version = "dev"

// Config assembles every collaborator a Server needs. Registry, Engine,
// Jobs and Sessions are required. Generator defaults to a fresh
// requestid.Generator, Logger to slog.Default() and MaxBodyBytes to 64 MiB;
// a nil Metrics leaves /metrics unmounted. New does not check the other
// fields.
type Config struct {
	Registry     *toolreg.Registry
	Engine       *engine.Engine
	Jobs         jobs.Store
	Dispatcher   *jobs.Dispatcher
	Sessions     *session.Manifold
	Orchestrator *orchestrator.Orchestrator
	PlanSource   planner.Source
	Generator    *requestid.Generator
	Metrics      *observability.Metrics
	Logger       *slog.Logger

	// MaxBodyBytes caps request bodies read by the JSON-decoding handlers;
	// zero selects the 64 MiB default.
	MaxBodyBytes int64
}

// Server owns the bound listener and mux.
type Server struct {
	cfg      Config
	mux      *http.ServeMux
	logger   *slog.Logger
	http     *http.Server
	listener net.Listener
}

// New wires every documented route onto a fresh ServeMux.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil || cfg.Engine == nil || cfg.Jobs == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("httpapi: registry, engine, jobs, and sessions are all required")
	}
	if cfg.Generator == nil {
		cfg.Generator = requestid.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 64 * 1024 * 1024
	}

	s := &Server{cfg: cfg, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the assembled mux, useful for tests that drive the
// server with httptest.NewServer without opening a real listener.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	if s.cfg.Metrics != nil {
		s.mux.Handle("/metrics", promhttp.Handler())
	}
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /version", s.handleVersion)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)

	s.mux.HandleFunc("GET /v1/tools", s.handleListTools)
	s.mux.HandleFunc("POST /v1/tools/execute", s.handleExecuteTool)

	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}/artifacts", s.handleListJobArtifacts)
	s.mux.HandleFunc("GET /v1/jobs/{id}/artifacts/{name}", s.handleReadJobArtifact)

	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/chat", s.handleChat)
	s.mux.HandleFunc("GET /v1/sessions/{id}/assets/{path...}", s.handleSessionAsset)
}

// Serve binds addr and blocks serving it until ctx is cancelled or Serve
// encounters a fatal error. The caller decides the exit-code mapping
// (0 normal, 1 startup error).
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.http = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(listener) }()

	s.logger.Info("httpapi listening", "addr", listener.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("httpapi shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the bound address, valid only after Serve has started
// listening.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write json response failed", "error", err)
	}
}

func (s *Server) writeErrorBody(w http.ResponseWriter, status int, code apierr.Code, solver, summary, detail string) {
	s.writeJSON(w, status, apierr.New(code, solver, summary, detail))
}
