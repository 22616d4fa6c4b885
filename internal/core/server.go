// Package core provides the API chassis for the subscription entitlement
// engine: a chi router with the cross-cutting middleware chain (recovery,
// request correlation, logging, CORS, metrics, auth) applied before requests
// reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Tahye23/servicessms-sub002/internal/config"
)

// MetricsCollector records API telemetry. Implementations publish request
// latency and count to CloudWatch or equivalent backends.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a domain handler's routes onto the API router. The
// indirection keeps core free of handler package imports.
type RouteRegistrar func(r chi.Router)

// Server bundles the dependencies of the HTTP layer so tests can inject
// substitutes for any of them.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// APIRouteRegistrars are mounted under /api by MountRoutes.
	APIRouteRegistrars []RouteRegistrar

	// closers run during Shutdown, typically the pgx pool.
	closers []func()

	router *chi.Mux
}

// NewServer constructs the server with its router. Routes are mounted
// separately so tests can register only what they exercise.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// OnShutdown registers a cleanup function to run during Shutdown.
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}

// Handler returns the router as an http.Handler for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs registered cleanup functions in reverse registration order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
