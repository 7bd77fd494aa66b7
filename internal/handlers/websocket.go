package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/songify/widget/internal/broker"
	"github.com/songify/widget/internal/playback"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// NewUpgrader accepts connections from the allowed origins. Requests without
// an Origin header come from OBS browser sources and are accepted.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
}

// WebSocket serves a bidirectional widget connection: state and error events
// are written as JSON frames and control commands are read from the client.
func (h *PlayerHandler) WebSocket(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		sub, ok := h.join(w, r, sessionID)
		if !ok {
			return
		}
		defer h.hub.Leave(sub)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			slog.InfoContext(r.Context(), "websocket upgrade failed", slog.String("session_id", sessionID), slog.Any("error", err))
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			defer cancel()
			err := writePump(ctx, conn, sub)
			logStreamEnd(ctx, "websocket", sessionID, err)
		}()

		h.readPump(ctx, conn, sessionID)
		cancel()
		conn.Close()
		<-done
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, sub *broker.Subscription) error {
	for {
		ev, err := nextOrIdle(ctx, sub, pingPeriod)
		if errors.Is(err, context.DeadlineExceeded) {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(eventFrame(ev)); err != nil {
			return err
		}
	}
}

// readPump decodes commands until the client goes away or ctx ends. Commands
// run one at a time in arrival order.
func (h *PlayerHandler) readPump(ctx context.Context, conn *websocket.Conn, sessionID string) {
	conn.SetReadLimit(maxCommandBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				slog.InfoContext(ctx, "websocket read failed", slog.String("session_id", sessionID), slog.Any("error", err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd playback.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.DebugContext(ctx, "ignoring malformed websocket message", slog.String("session_id", sessionID))
			continue
		}

		if err := h.hub.Dispatch(ctx, sessionID, cmd); err != nil {
			slog.WarnContext(ctx, "websocket command rejected",
				slog.String("session_id", sessionID),
				slog.String("command", string(cmd.Type)),
				slog.Any("error", err))
		}
	}
}
