package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/songify/widget/internal/broker"
	"github.com/songify/widget/internal/models"
	"github.com/songify/widget/internal/playback"
)

const maxCommandBytes = 4 << 10

// Hub is the session lifecycle the widget endpoints attach to.
type Hub interface {
	Join(ctx context.Context, sessionID string) (*broker.Subscription, error)
	Leave(sub *broker.Subscription)
	Dispatch(ctx context.Context, sessionID string, cmd playback.Command) error
}

// SnapshotSource returns the last state broadcast for a session.
type SnapshotSource interface {
	LastMessage(sessionID string) *playback.MonitorMessage
}

// PlayerHandler serves the widget's state and accepts its control commands.
type PlayerHandler struct {
	hub       Hub
	snapshots SnapshotSource
}

// NewPlayerHandler creates a PlayerHandler.
func NewPlayerHandler(hub Hub, snapshots SnapshotSource) *PlayerHandler {
	return &PlayerHandler{hub: hub, snapshots: snapshots}
}

// Snapshot returns the last known player state of the session, or 204 when
// nothing has been observed yet.
func (h *PlayerHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	msg := h.snapshots.LastMessage(chi.URLParam(r, "id"))
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// Command dispatches one control command. Failures of the command itself are
// reported to the session's subscribers as error events, not in the response.
func (h *PlayerHandler) Command(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var cmd playback.Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBytes)).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cmd.Type == "" {
		writeError(w, http.StatusBadRequest, "command type is required")
		return
	}

	if err := h.hub.Dispatch(r.Context(), sessionID, cmd); err != nil {
		if errors.Is(err, playback.ErrLifecycle) {
			writeError(w, http.StatusNotFound, "session is not active")
			return
		}
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to dispatch command", err)
		return
	}

	writeJSON(w, http.StatusAccepted, models.CommandResponse{Status: "accepted"})
}

// join attaches to a session and writes the error response when that fails.
func (h *PlayerHandler) join(w http.ResponseWriter, r *http.Request, sessionID string) (*broker.Subscription, bool) {
	sub, err := h.hub.Join(r.Context(), sessionID)
	if err == nil {
		return sub, true
	}
	if errors.Is(err, playback.ErrCredentialNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to join session", err)
	return nil, false
}

func eventFrame(ev broker.Event) models.WidgetEvent {
	return models.WidgetEvent{Event: string(ev.Kind), Data: ev.Payload()}
}

func logStreamEnd(ctx context.Context, transport, sessionID string, err error) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, broker.ErrClosed) {
		slog.DebugContext(ctx, "widget stream closed", slog.String("transport", transport), slog.String("session_id", sessionID))
		return
	}
	slog.InfoContext(ctx, "widget stream ended", slog.String("transport", transport), slog.String("session_id", sessionID), slog.Any("error", err))
}
