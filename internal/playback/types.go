// Package playback defines the data model shared by the monitor, the broker and
// the Spotify adapters: player snapshots, the messages broadcast to widget
// subscribers, credentials, and the interfaces of the external collaborators.
package playback

import (
	"context"
	"fmt"
	"time"
)

// PlayerState is the coarse player category tracked per session.
type PlayerState string

const (
	StatePlaying PlayerState = "PLAYING"
	StatePaused  PlayerState = "PAUSED"
	StateStopped PlayerState = "STOPPED"
	StateError   PlayerState = "ERROR"
	StateOffline PlayerState = "OFFLINE"
	StateLoading PlayerState = "LOADING"
)

// NoTrackColor is broadcast when nothing is loaded on the player.
const NoTrackColor = "0,0,0"

// Device is the Spotify Connect device the player is bound to.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"isActive"`
	IsRestricted  bool   `json:"isRestricted"`
	VolumePercent int    `json:"volumePercent"`
}

type Album struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Track is the item currently loaded on the player. Album is nil for items
// that are not music tracks (episodes).
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	URI        string   `json:"spotifyUri,omitempty"`
	DurationMs int      `json:"durationMs"`
	Explicit   bool     `json:"explicit"`
	Album      *Album   `json:"album"`
	Artists    []Artist `json:"artists"`
}

// ImageURL returns the album art URL, or "" when the track has no album or
// the album has no image.
func (t *Track) ImageURL() string {
	if t == nil || t.Album == nil {
		return ""
	}
	return t.Album.ImageURL
}

// Details carries the playback position and modes.
type Details struct {
	PlayerState     PlayerState `json:"playerState"`
	ProgressMs      int         `json:"progressMs"`
	IsPlaying       bool        `json:"isPlaying"`
	ShuffleMode     bool        `json:"shuffleMode"`
	RepeatMode      string      `json:"repeatMode"`
	TimestampMs     int64       `json:"timestamp"`
	Elapsed         string      `json:"elapsed"`
	Remains         string      `json:"remains"`
	ProgressPercent float64     `json:"progressPercent"`
}

// Snapshot is one observation of a session's player. Snapshots are values;
// a new one replaces the cached one wholesale.
type Snapshot struct {
	Device  *Device `json:"device"`
	Track   *Track  `json:"track"`
	Details Details `json:"details"`
}

// Title is the page title shown by the widget for this snapshot.
func (s Snapshot) Title() string {
	if s.Track == nil {
		return "Spotify - Not Playing"
	}
	if len(s.Track.Artists) == 0 {
		return s.Track.Name
	}
	return s.Track.Name + " - " + s.Track.Artists[0].Name
}

// MonitorMessage is the unit broadcast to subscribers and cached for late joiners.
type MonitorMessage struct {
	Snapshot
	Color string `json:"color"`
	Title string `json:"title"`
}

// ErrorNotification is delivered out of band when a control command fails.
type ErrorNotification struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

// Credential is the upstream OAuth identity of one session.
type Credential struct {
	ID           string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token must be refreshed before use.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// NewCredential holds the fields needed to register a freshly authorized account.
type NewCredential struct {
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RGB is a representative colour of an image.
type RGB struct {
	R, G, B uint8
}

// String formats the colour for the widget stylesheet. The trailing separator
// is intentional: the template appends an alpha component.
func (c RGB) String() string {
	return fmt.Sprintf("%d,%d,%d,", c.R, c.G, c.B)
}

// Provider is a client of the upstream playback API bound to one access token.
type Provider interface {
	State(ctx context.Context) (Snapshot, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Previous(ctx context.Context) error
	Next(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
}

// ProviderFactory builds a Provider for an access token.
type ProviderFactory interface {
	ForToken(accessToken string) Provider
}

// CredentialStore persists credentials. Get returns ErrCredentialNotFound when
// no credential exists for the id.
type CredentialStore interface {
	Get(ctx context.Context, id string) (Credential, error)
	Update(ctx context.Context, cred Credential) (Credential, error)
	Create(ctx context.Context, cred NewCredential) (string, error)
}

// ColorExtractor computes a representative colour from an image URL.
type ColorExtractor interface {
	Extract(ctx context.Context, imageURL string) (RGB, error)
}
