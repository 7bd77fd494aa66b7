package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/songify/widget/internal/playback"
)

// spotifyScopes is the permission set requested at login.
var spotifyScopes = []string{
	"user-read-private",
	"user-read-email",
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
	"playlist-read-private",
	"playlist-modify-public",
	"playlist-modify-private",
	"playlist-read-collaborative",
	"user-read-recently-played",
	"user-top-read",
	"streaming",
}

// SpotifyService wraps the Spotify accounts service: login, code exchange
// and token refresh. It also builds per-token player clients.
type SpotifyService struct {
	auth    *spotifyauth.Authenticator
	store   playback.CredentialStore
	clock   clockwork.Clock
	baseURL string
}

// SpotifyOption customizes a SpotifyService.
type SpotifyOption func(*SpotifyService)

// WithAPIBaseURL points player clients at a different Web API root.
func WithAPIBaseURL(url string) SpotifyOption {
	return func(s *SpotifyService) {
		s.baseURL = url
	}
}

func NewSpotifyService(clientID, clientSecret, redirectURL string, store playback.CredentialStore, clock clockwork.Clock, opts ...SpotifyOption) *SpotifyService {
	s := &SpotifyService{
		auth: spotifyauth.New(
			spotifyauth.WithClientID(clientID),
			spotifyauth.WithClientSecret(clientSecret),
			spotifyauth.WithRedirectURL(redirectURL),
			spotifyauth.WithScopes(spotifyScopes...),
		),
		store: store,
		clock: clock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthURL returns the Spotify consent page URL carrying state.
func (s *SpotifyService) AuthURL(state string) string {
	return s.auth.AuthURL(state)
}

// Authorize exchanges an authorization code, resolves the Spotify account and
// stores its credential. Accounts are keyed by email, so logging in again
// keeps the same session id.
func (s *SpotifyService) Authorize(ctx context.Context, code string) (string, error) {
	tok, err := s.auth.Exchange(ctx, code)
	if err != nil {
		return "", playback.AuthError("exchange code", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return "", playback.AuthError("exchange code", errors.New("missing parameters"))
	}

	client := s.client(tok.AccessToken)
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return "", playback.ProviderError("get current user", err)
	}

	id, err := s.store.Create(ctx, playback.NewCredential{
		Email:        user.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    s.clock.Now().Add(s.expiresIn(tok)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to save credential: %w", err)
	}
	return id, nil
}

// RefreshToken implements TokenRefresher.
func (s *SpotifyService) RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error) {
	tok, err := s.auth.RefreshToken(ctx, &oauth2.Token{RefreshToken: refreshToken})
	if err != nil {
		return TokenGrant{}, err
	}
	grant := TokenGrant{
		AccessToken: tok.AccessToken,
		ExpiresIn:   s.expiresIn(tok),
	}
	// Spotify only rotates the refresh token occasionally.
	if tok.RefreshToken != refreshToken {
		grant.RefreshToken = tok.RefreshToken
	}
	return grant, nil
}

// ForToken implements playback.ProviderFactory.
func (s *SpotifyService) ForToken(accessToken string) playback.Provider {
	return &SpotifyPlayer{client: s.client(accessToken)}
}

func (s *SpotifyService) client(accessToken string) *spotify.Client {
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
		},
	}
	var opts []spotify.ClientOption
	if s.baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(s.baseURL))
	}
	return spotify.New(httpClient, opts...)
}

func (s *SpotifyService) expiresIn(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry.Sub(s.clock.Now())
	}
	return time.Hour
}

// SpotifyPlayer is a playback.Provider bound to one access token.
type SpotifyPlayer struct {
	client *spotify.Client
}

func (p *SpotifyPlayer) State(ctx context.Context) (playback.Snapshot, error) {
	state, err := p.client.PlayerState(ctx)
	if err != nil {
		return playback.Snapshot{}, wrapSpotifyError("get player state", err)
	}
	return snapshotFromState(state), nil
}

func (p *SpotifyPlayer) Pause(ctx context.Context) error {
	return wrapSpotifyError("pause", p.client.Pause(ctx))
}

func (p *SpotifyPlayer) Resume(ctx context.Context) error {
	return wrapSpotifyError("resume", p.client.Play(ctx))
}

func (p *SpotifyPlayer) Previous(ctx context.Context) error {
	return wrapSpotifyError("previous", p.client.Previous(ctx))
}

func (p *SpotifyPlayer) Next(ctx context.Context) error {
	return wrapSpotifyError("next", p.client.Next(ctx))
}

func (p *SpotifyPlayer) Seek(ctx context.Context, positionMs int) error {
	return wrapSpotifyError("seek", p.client.Seek(ctx, positionMs))
}

// wrapSpotifyError classifies Web API failures; a rejected token is an auth
// error, everything else a provider error.
func wrapSpotifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr spotify.Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return playback.AuthError(op, err)
	}
	return playback.ProviderError(op, err)
}

func snapshotFromState(state *spotify.PlayerState) playback.Snapshot {
	var s playback.Snapshot
	if state == nil {
		s.Details.PlayerState = playback.StateStopped
		return s
	}

	if state.Device.ID != "" {
		s.Device = &playback.Device{
			ID:            string(state.Device.ID),
			Name:          state.Device.Name,
			Type:          state.Device.Type,
			IsActive:      state.Device.Active,
			IsRestricted:  state.Device.Restricted,
			VolumePercent: int(state.Device.Volume),
		}
	}

	if item := state.Item; item != nil {
		s.Track = &playback.Track{
			ID:         string(item.ID),
			Name:       item.Name,
			URI:        item.ExternalURLs["spotify"],
			DurationMs: int(item.Duration),
			Explicit:   item.Explicit,
		}
		if item.Album.ID != "" {
			album := &playback.Album{ID: string(item.Album.ID), Name: item.Album.Name}
			if len(item.Album.Images) > 0 {
				album.ImageURL = item.Album.Images[0].URL
			}
			s.Track.Album = album
		}
		for _, a := range item.Artists {
			s.Track.Artists = append(s.Track.Artists, playback.Artist{ID: string(a.ID), Name: a.Name})
		}
	}

	s.Details = playback.Details{
		PlayerState: playerState(state),
		ProgressMs:  int(state.Progress),
		IsPlaying:   state.Playing,
		ShuffleMode: state.ShuffleState,
		RepeatMode:  state.RepeatState,
		TimestampMs: state.Timestamp,
	}
	return s
}

func playerState(state *spotify.PlayerState) playback.PlayerState {
	switch {
	case state.Item == nil:
		return playback.StateStopped
	case state.Playing:
		return playback.StatePlaying
	default:
		return playback.StatePaused
	}
}
