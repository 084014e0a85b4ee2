package core

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"lodgemail/internal/db"
	"lodgemail/internal/types"
)

// Authenticator resolves a presented API key to an Actor.
type Authenticator interface {
	ResolveKey(ctx context.Context, key string) (*types.Actor, error)
}

// AuthMiddleware guards the /v1 routes. It extracts the Bearer token from
// the Authorization header, resolves it through the Authenticator, and
// injects the resulting Actor into the request context. A nil
// Authenticator passes requests through, which tests rely on.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveKey(r.Context(), token)
		if err != nil {
			s.Logger.Warn("authentication failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid API key")
			return
		}

		ctx := types.WithActor(r.Context(), *actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken parses an Authorization header value of the form
// "Bearer <token>", matching the scheme case-insensitively per RFC 7235.
// Returns the empty string when the format is invalid.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// writeAuthError writes a 401 response with the given error code.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	}
	JSON(w, r, http.StatusUnauthorized, resp)
}

// APIKeyLookup is the subset of the API key repository the authenticator
// needs.
type APIKeyLookup interface {
	Get(ctx context.Context, id string) (*db.APIKey, error)
}

// APIKeyAuthenticator verifies presented keys of the form
// "lm_<id>_<secret>" against stored bcrypt hashes.
type APIKeyAuthenticator struct {
	keys APIKeyLookup
}

// NewAPIKeyAuthenticator creates an APIKeyAuthenticator backed by the
// given key store.
func NewAPIKeyAuthenticator(keys APIKeyLookup) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys}
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)

// ResolveKey parses and verifies the presented key. All failure modes
// resolve to auth_token_invalid so responses never reveal whether a key
// ID exists.
func (a *APIKeyAuthenticator) ResolveKey(ctx context.Context, key string) (*types.Actor, error) {
	id, secret, ok := splitAPIKey(key)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed API key", nil)
	}

	stored, err := a.keys.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored.Revoked() {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "API key has been revoked", nil)
	}

	if err := bcrypt.CompareHashAndPassword(stored.KeyHash, []byte(secret)); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "API key verification failed", err)
	}

	return &types.Actor{
		ID:       stored.ID,
		TenantID: stored.TenantID,
		Source:   "api_key",
	}, nil
}

// splitAPIKey splits "lm_<id>_<secret>" into its id and secret parts. The
// secret may itself contain underscores; only the first two separate.
func splitAPIKey(key string) (id, secret string, ok bool) {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 || parts[0] != "lm" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
