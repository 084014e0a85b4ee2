// Package core provides the API chassis for the LodgeMail service. It
// creates a chi router compatible with both standard HTTP (for local dev)
// and AWS Lambda Proxy Integration, and enforces the cross-cutting
// concerns (request identity, timeouts, logging, authentication, error
// envelopes) before requests reach the email handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lodgemail/internal/config"
)

// PoolCloser matches the Close method of *pgxpool.Pool. The server closes
// it during shutdown when set.
type PoolCloser interface {
	Close()
}

// Server bundles the dependencies of the HTTP API, allowing injection
// during testing and distinct wiring per environment.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Authenticator Authenticator // resolves API keys to Actors; nil disables auth
	HealthProbes  []HealthProbe
	DB            PoolCloser // closed on Shutdown when set

	router *chi.Mux
}

// NewServer initializes the router and performs fail-fast checks on the
// critical dependencies. The caller mounts routes after construction via
// MountRoutes; the separation lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router. Used by
// http.ListenAndServe locally and by the Lambda proxy adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources, closing the database pool when one
// was attached.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if s.DB != nil {
		s.DB.Close()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
