package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/songify/widget/internal/broker"
)

// HeartbeatInterval is how often idle SSE streams get a comment line to keep
// proxies from closing them.
var HeartbeatInterval = 30 * time.Second

// Stream opens an SSE connection scoped to a session. The connection counts
// as a widget subscriber for as long as it is open: it receives the last
// known state first, then a "sync_track" event on every poll and an "error"
// event whenever a command fails.
func (h *PlayerHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, ok := h.join(w, r, sessionID)
	if !ok {
		return
	}
	defer h.hub.Leave(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		ev, err := nextOrIdle(ctx, sub, HeartbeatInterval)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Fprintf(w, ": heartbeat\n\n")
		case err != nil:
			logStreamEnd(ctx, "sse", sessionID, err)
			return
		default:
			if err := writeSSE(w, ev); err != nil {
				logStreamEnd(ctx, "sse", sessionID, err)
				return
			}
		}
		flusher.Flush()
	}
}

// nextOrIdle waits for the next event for at most idle. It returns
// context.DeadlineExceeded when nothing arrived in time and ctx is still live.
func nextOrIdle(ctx context.Context, sub *broker.Subscription, idle time.Duration) (broker.Event, error) {
	waitCtx, cancel := context.WithTimeout(ctx, idle)
	defer cancel()

	ev, err := sub.Next(waitCtx)
	if err != nil && ctx.Err() != nil {
		return broker.Event{}, ctx.Err()
	}
	return ev, err
}

func writeSSE(w http.ResponseWriter, ev broker.Event) error {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Kind, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
