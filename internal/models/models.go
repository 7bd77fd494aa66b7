package models

import "time"

// Health check
type HealthResponse struct {
	Status string `json:"status"`
}

// Public configuration for widget pages
type ConfigResponse struct {
	SpotifyClientID string `json:"spotifyClientId"`
	PollIntervalMs  int64  `json:"pollIntervalMs"`
}

// OAuth callback result
type AuthResponse struct {
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Widget control
type CommandResponse struct {
	Status string `json:"status"`
}

// WidgetEvent is the envelope written to WebSocket clients. SSE clients get
// the same Event as the event name and Data as the payload.
type WidgetEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
