// Package middleware provides the HTTP middleware chain for the gateway:
// authentication, rate limiting, CORS and request tracing.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lenslab/vision-gateway/internal/app/domain/apikey"
	"github.com/lenslab/vision-gateway/internal/app/services/keys"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

// APIKeyHeader carries a plaintext API key on client requests.
const APIKeyHeader = "X-API-Key"

type contextKey string

const keyIDKey contextKey = "key_id"

// Verifier checks client credentials. *keys.Service implements it.
type Verifier interface {
	VerifyAPIKey(ctx context.Context, plaintext string) (apikey.Key, error)
	VerifyJWT(token string) (*keys.Claims, error)
}

// AuthMiddleware authenticates API requests with an API key or a bearer
// token issued for one, and guards the admin surface with a static
// operator token.
type AuthMiddleware struct {
	verifier   Verifier
	adminToken []byte
	log        *logger.Logger
	skipPaths  map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. A nil verifier
// disables client authentication; requests then pass through unchecked.
// An empty adminToken locks the admin surface entirely.
func NewAuthMiddleware(verifier Verifier, adminToken string, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	if verifier == nil {
		log.Warn("client authentication disabled: no verifier configured")
	}

	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		verifier:   verifier,
		adminToken: []byte(adminToken),
		log:        log,
		skipPaths:  skip,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/admin/") {
			m.adminOnly(next, w, r)
			return
		}

		if m.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}

		if plaintext := r.Header.Get(APIKeyHeader); plaintext != "" {
			key, err := m.verifier.VerifyAPIKey(r.Context(), plaintext)
			if err != nil {
				m.reject(w, r, "invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(withKeyID(r.Context(), key.ID)))
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			m.reject(w, r, "missing credentials")
			return
		}
		claims, err := m.verifier.VerifyJWT(token)
		if err != nil {
			m.reject(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withKeyID(r.Context(), claims.KeyID)))
	})
}

// adminOnly admits requests presenting the operator token.
func (m *AuthMiddleware) adminOnly(next http.Handler, w http.ResponseWriter, r *http.Request) {
	if len(m.adminToken) == 0 {
		m.reject(w, r, "admin access not configured")
		return
	}
	token, ok := bearerToken(r)
	if !ok || subtle.ConstantTimeCompare([]byte(token), m.adminToken) != 1 {
		m.reject(w, r, "invalid admin token")
		return
	}
	next.ServeHTTP(w, r)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, msg string) {
	m.log.WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
	}).Warn("authentication failed: ", msg)
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func withKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, keyIDKey, keyID)
}

// GetKeyID returns the authenticated API key ID, or "" for
// unauthenticated requests.
func GetKeyID(ctx context.Context) string {
	if v, ok := ctx.Value(keyIDKey).(string); ok {
		return v
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
