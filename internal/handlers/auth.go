package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/songify/widget/internal/logging"
	"github.com/songify/widget/internal/middleware"
	"github.com/songify/widget/internal/models"
	"github.com/songify/widget/internal/services"
)

const (
	stateCookie    = "oauth_state"
	stateCookieTTL = 10 * time.Minute
)

// Authorizer runs the Spotify authorization code flow.
type Authorizer interface {
	AuthURL(state string) string
	Authorize(ctx context.Context, code string) (string, error)
}

// AuthHandler logs a Spotify account in and issues the widget session token.
type AuthHandler struct {
	authorizer  Authorizer
	authService *services.AuthService
	secure      bool
}

// NewAuthHandler creates an AuthHandler. secure marks cookies HTTPS-only.
func NewAuthHandler(authorizer Authorizer, authService *services.AuthService, secure bool) *AuthHandler {
	return &AuthHandler{authorizer: authorizer, authService: authService, secure: secure}
}

// Login redirects to the Spotify consent page with a fresh state value, which
// is also kept in a short-lived cookie for the callback to compare.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.authorizer.AuthURL(state), http.StatusFound)
}

// Callback completes the flow: it checks state, exchanges the code, stores
// the account's credential and returns a session token for the widget.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+reason)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing parameters")
		return
	}

	c, err := r.Cookie(stateCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) != 1 {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadOAuthState, "oauth state mismatch")
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/api/auth", MaxAge: -1})

	sessionID, err := h.authorizer.Authorize(r.Context(), code)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusBadGateway, "failed to authorize with Spotify", err)
		return
	}

	token, err := h.authService.GenerateToken(sessionID)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.authService.TokenDuration().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, models.AuthResponse{
		SessionID: sessionID,
		Token:     token,
		ExpiresAt: time.Now().Add(h.authService.TokenDuration()).UTC(),
	})
}
