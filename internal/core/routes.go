package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRedactedHeaders lists header names whose values are masked in
// request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes registers the global middleware chain, the /api route groups,
// and the health endpoint.
//
// Middleware order matters: Recoverer is outermost so it catches everything;
// RequestID precedes logging so log lines carry the correlation ID; Auth is
// last so downstream route groups can layer role checks on the Actor.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.Config.Server.RequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.Config.Server.CorsAllowedOrigins))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(s.AuthMiddleware)

	s.router.Route("/api", func(r chi.Router) {
		for _, registrar := range s.APIRouteRegistrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}

// ContextTimeoutMiddleware sets a soft deadline on the request context so
// slow storage calls abort before the load balancer gives up on us.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
