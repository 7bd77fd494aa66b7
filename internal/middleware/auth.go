// Package middleware provides HTTP middleware for widget authentication,
// CORS handling, rate limiting, and request context management.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/songify/widget/internal/logging"
	"github.com/songify/widget/internal/services"
)

type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"

	// TokenCookie holds the session token for browser sources that cannot
	// set headers.
	TokenCookie = "widget_token"
)

// AuthMiddleware validates the widget session token and adds its claims to the
// request context. The token is read from the Authorization header, then the
// "token" query parameter (EventSource and WebSocket clients), then the
// session cookie. Returns 401 for missing or invalid tokens.
func AuthMiddleware(authService *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractToken(w, r)
			if !ok {
				return
			}

			claims, err := authService.ValidateToken(token)
			if err != nil {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidJWT, "invalid or expired token")
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidAuthFmt, "invalid authorization header format")
			http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
			return "", false
		}
		return parts[1], true
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}

	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value, true
	}

	logging.LogSecurityEvent(r.Context(), logging.SecurityEventMissingAuth, "missing session token")
	http.Error(w, `{"error":"missing session token"}`, http.StatusUnauthorized)
	return "", false
}

// SessionMatchMiddleware rejects requests whose token was issued for another
// session than the {id} URL parameter. Must be used after AuthMiddleware.
func SessionMatchMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		if claims == nil || claims.SessionID != chi.URLParam(r, "id") {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventSessionMismatch, "token does not grant access to session")
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClaims retrieves the JWT claims from the request context.
// Returns nil if no claims are present (e.g., unauthenticated request).
func GetClaims(ctx context.Context) *services.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*services.Claims)
	return claims
}
