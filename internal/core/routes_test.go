package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodgemail/internal/config"
	"lodgemail/internal/types"
)

func newRoutedServer(t *testing.T, registrars ...V1RouteRegistrar) *Server {
	t.Helper()
	s, err := NewServer(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	s.MountRoutes(registrars...)
	return s
}

func TestMountRoutes_HealthIsPublic(t *testing.T) {
	s := newRoutedServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestMountRoutes_RequestIDAssignedAndEchoed(t *testing.T) {
	var seen string
	s := newRoutedServer(t, func(_ *Server, r chi.Router) {
		r.Get("/emails", func(w http.ResponseWriter, req *http.Request) {
			seen = types.GetRequestID(req.Context())
		})
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/emails", nil))

	assert.Len(t, seen, 32)
	assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))
}

func TestMountRoutes_InboundRequestIDPreserved(t *testing.T) {
	s := newRoutedServer(t, func(_ *Server, r chi.Router) {
		r.Get("/emails", func(w http.ResponseWriter, req *http.Request) {})
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/emails", nil)
	req.Header.Set("X-Request-Id", "upstream-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "upstream-42", rec.Header().Get("X-Request-Id"))
}

func TestMountRoutes_SecurityHeadersSet(t *testing.T) {
	s := newRoutedServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestMountRoutes_PanicBecomesStructured500(t *testing.T) {
	s := newRoutedServer(t, func(_ *Server, r chi.Router) {
		r.Get("/emails", func(w http.ResponseWriter, req *http.Request) {
			panic("boom")
		})
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/emails", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeInternalUnexpected))
}

func TestMountRoutes_V1RequiresAuthWhenConfigured(t *testing.T) {
	s := newRoutedServer(t, func(_ *Server, r chi.Router) {
		r.Get("/emails", func(w http.ResponseWriter, req *http.Request) {})
	})
	s.Authenticator = NewAPIKeyAuthenticator(&fakeKeyLookup{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/emails", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestContextTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hadDeadline bool
	handler := ContextTimeoutMiddleware(defaultRequestTimeout)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, hadDeadline = r.Context().Deadline()
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, hadDeadline)
}

func TestRequestLogger_RedactsAuthorization(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := RequestLogger(logger, []string{"Authorization"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

	req := httptest.NewRequest(http.MethodGet, "/v1/emails", nil)
	req.Header.Set("Authorization", "Bearer lm_key1_supersecret")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "status=204")
	assert.Contains(t, out, "REDACTED")
	assert.NotContains(t, out, "supersecret")
}

type fakeProbe struct {
	name string
	err  error
}

func (p fakeProbe) Name() string { return p.name }

func (p fakeProbe) Check(_ context.Context) error { return p.err }

func TestHandleHealth_UnhealthyDependencyReturns503(t *testing.T) {
	s := newRoutedServer(t)
	s.HealthProbes = []HealthProbe{
		fakeProbe{name: "database"},
		fakeProbe{name: "email", err: errors.New("provider unreachable")},
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unhealthy"`)
	assert.Contains(t, rec.Body.String(), "provider unreachable")
}

func TestHandleHealth_AllProbesHealthy(t *testing.T) {
	s := newRoutedServer(t)
	s.HealthProbes = []HealthProbe{fakeProbe{name: "database"}}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":{"status":"healthy"}`)
}
