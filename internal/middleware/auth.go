// Package middleware provides HTTP middleware for the provenance API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/internal/httputil"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

type contextKey string

const identityKey contextKey = "identity"

// TokenVerifier turns a bearer token into a caller identity.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthMiddleware resolves the bearer token, if any, into the request
// identity. Requests without an Authorization header continue anonymously;
// the ledger rejects anonymous mutations.
type AuthMiddleware struct {
	verifier TokenVerifier
	log      *logger.Logger
}

// NewAuthMiddleware creates the authentication middleware.
func NewAuthMiddleware(verifier TokenVerifier, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{verifier: verifier, log: log}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			m.reject(w, r, apperrors.ErrUnauthenticated.WithMessage("invalid Authorization header format"))
			return
		}

		identity, err := m.verifier.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	m.log.WithError(err).WithFields(map[string]interface{}{
		"path":       r.URL.Path,
		"method":     r.Method,
		"request_id": RequestID(r.Context()),
	}).Warn("authentication failed")
	httputil.WriteError(w, err)
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// Identity returns the caller identity, or "" for anonymous requests.
func Identity(ctx context.Context) string {
	v, _ := ctx.Value(identityKey).(string)
	return v
}

// RequireIdentity rejects anonymous requests.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Identity(r.Context()) == "" {
			httputil.WriteError(w, apperrors.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}
