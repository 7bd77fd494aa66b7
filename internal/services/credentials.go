package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/songify/widget/internal/metrics"
	"github.com/songify/widget/internal/playback"
)

const refreshTimeout = 15 * time.Second

// TokenGrant is the result of exchanging a refresh token.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error)
}

// CredentialManager hands out valid access tokens for sessions. Credentials
// are cached in memory after the first load; expired ones are refreshed at
// most once at a time per session and persisted before being returned.
type CredentialManager struct {
	store     playback.CredentialStore
	refresher TokenRefresher
	clock     clockwork.Clock

	mu    sync.Mutex
	cache map[string]playback.Credential

	flights singleflight.Group
}

// NewCredentialManager creates a CredentialManager.
func NewCredentialManager(store playback.CredentialStore, refresher TokenRefresher, clock clockwork.Clock) *CredentialManager {
	return &CredentialManager{
		store:     store,
		refresher: refresher,
		clock:     clock,
		cache:     make(map[string]playback.Credential),
	}
}

// Valid returns a credential whose access token has not expired.
func (m *CredentialManager) Valid(ctx context.Context, sessionID string) (playback.Credential, error) {
	if cred, ok := m.fresh(sessionID); ok {
		return cred, nil
	}

	// Callers share one flight, so the work must not die with the first caller.
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()

	v, err, _ := m.flights.Do(sessionID, func() (any, error) {
		// Another flight may have refreshed while this caller was waiting.
		if cred, ok := m.fresh(sessionID); ok {
			return cred, nil
		}

		cred, ok := m.lookup(sessionID)
		if !ok {
			loaded, err := m.store.Get(flightCtx, sessionID)
			if err != nil {
				return nil, playback.AuthError("load credential", err)
			}
			cred = loaded
		}

		if !cred.Expired(m.clock.Now()) {
			m.put(cred)
			return cred, nil
		}
		return m.refresh(flightCtx, cred)
	})
	if err != nil {
		return playback.Credential{}, err
	}
	return v.(playback.Credential), nil
}

// Forget drops the cached credential of a session.
func (m *CredentialManager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, sessionID)
}

func (m *CredentialManager) refresh(ctx context.Context, cred playback.Credential) (playback.Credential, error) {
	grant, err := m.refresher.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		return playback.Credential{}, playback.AuthError("refresh token", err)
	}

	cred.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		cred.RefreshToken = grant.RefreshToken
	}
	cred.ExpiresAt = m.clock.Now().Add(grant.ExpiresIn)

	saved, err := m.store.Update(ctx, cred)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		return playback.Credential{}, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	m.put(saved)
	metrics.TokenRefreshesTotal.WithLabelValues("ok").Inc()
	slog.Debug("access token refreshed",
		slog.String("session_id", saved.ID),
		slog.Time("expires_at", saved.ExpiresAt))
	return saved, nil
}

func (m *CredentialManager) fresh(sessionID string) (playback.Credential, bool) {
	cred, ok := m.lookup(sessionID)
	if !ok || cred.Expired(m.clock.Now()) {
		return playback.Credential{}, false
	}
	return cred, true
}

func (m *CredentialManager) lookup(sessionID string) (playback.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.cache[sessionID]
	return cred, ok
}

func (m *CredentialManager) put(cred playback.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[cred.ID] = cred
}
