package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lodgemail/internal/types"
)

// defaultRequestTimeout bounds request handling below the API Gateway
// integration timeout so clients receive a structured error instead of a
// gateway-level 504.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders lists headers whose values are masked in request
// logs.
var defaultRedactedHeaders = []string{"Authorization"}

// V1RouteRegistrar registers a group of /v1 routes on the router. Handler
// packages provide registrars so core never imports them, keeping the
// dependency direction one-way.
type V1RouteRegistrar func(s *Server, r chi.Router)

// MountRoutes wires the global middleware chain, the public health
// endpoint, and the authenticated /v1 route groups.
//
// Middleware order matters: Recoverer is outermost so every panic is
// caught, the timeout wraps everything that can block, and the request ID
// is assigned before anything logs.
func (s *Server) MountRoutes(registrars ...V1RouteRegistrar) {
	r := s.router

	r.Use(s.Recoverer)
	r.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	r.Use(RequestIDMiddleware)
	r.Use(s.SecurityHeadersMiddleware)
	r.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	r.Get("/health", s.HandleHealth)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.AuthMiddleware)
		for _, register := range registrars {
			register(s, v1)
		}
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

// RequestIDMiddleware assigns each request a correlation ID, preferring an
// inbound X-Request-Id header so upstream proxies can stitch traces
// together. The ID is stored in the request context and echoed back on the
// response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateRequestID returns a 32-character hex string from 16 random bytes.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// fixed marker rather than panicking inside middleware.
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(b)
}

// ContextTimeoutMiddleware derives a deadline-bound context for each
// request so slow downstreams surface as context errors rather than
// hanging the handler.
func ContextTimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
