package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songify/widget/internal/broker"
	"github.com/songify/widget/internal/config"
	"github.com/songify/widget/internal/playback"
	"github.com/songify/widget/internal/services"
)

type stubAuthorizer struct{}

func (stubAuthorizer) AuthURL(state string) string { return "https://accounts.spotify.com/authorize?state=" + state }
func (stubAuthorizer) Authorize(ctx context.Context, code string) (string, error) {
	return "s1", nil
}

type stubHub struct{ b *broker.Broker }

func (h stubHub) Join(ctx context.Context, sessionID string) (*broker.Subscription, error) {
	sub, _ := h.b.Subscribe(sessionID)
	return sub, nil
}
func (h stubHub) Leave(sub *broker.Subscription) { h.b.Unsubscribe(sub) }
func (h stubHub) Dispatch(ctx context.Context, sessionID string, cmd playback.Command) error {
	return nil
}

func newTestRouter(t *testing.T) (*Router, *services.AuthService, *broker.Broker) {
	t.Helper()
	cfg := &config.Config{
		SpotifyClientID:    "client",
		PollInterval:       time.Second,
		RateLimitPerMinute: 2,
		CORSAllowedOrigins: []string{"http://localhost:5173"},
	}
	auth := services.NewAuthService("secret", time.Hour)
	b := broker.New()
	r := New(cfg, Deps{
		Auth:       auth,
		Authorizer: stubAuthorizer{},
		Hub:        stubHub{b: b},
		Snapshots:  b,
		Clock:      clockwork.NewFakeClock(),
	})
	return r, auth, b
}

func TestRouter_PublicRoutes(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for path, want := range map[string]int{
		"/api/health":     http.StatusOK,
		"/api/config":     http.StatusOK,
		"/metrics":        http.StatusOK,
		"/api/auth/login": http.StatusFound,
		"/api/unknown":    http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}

func TestRouter_PlayerRequiresMatchingToken(t *testing.T) {
	r, auth, b := newTestRouter(t)
	token, err := auth.GenerateToken("s1")
	require.NoError(t, err)
	b.Publish("s1", playback.MonitorMessage{Color: playback.NoTrackColor})

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"no token", "/api/player/s1/", "", http.StatusUnauthorized},
		{"other session", "/api/player/s2/", token, http.StatusForbidden},
		{"own session", "/api/player/s1/", token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRouter_CommandsAreRateLimited(t *testing.T) {
	r, auth, _ := newTestRouter(t)
	token, err := auth.GenerateToken("s1")
	require.NoError(t, err)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/player/s1/commands", strings.NewReader(`{"type":"play_next_track"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, post())
	assert.Equal(t, http.StatusAccepted, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
}
