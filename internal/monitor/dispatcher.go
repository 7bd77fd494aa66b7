package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/songify/widget/internal/metrics"
	"github.com/songify/widget/internal/playback"
)

// restartThresholdMs is how far into a track "previous" restarts it instead
// of skipping back.
const restartThresholdMs = 5000

const commandTimeout = 10 * time.Second

// Dispatcher translates widget commands into upstream player calls.
type Dispatcher struct {
	credentials Credentials
	providers   playback.ProviderFactory
	publisher   Publisher
}

func NewDispatcher(credentials Credentials, providers playback.ProviderFactory, publisher Publisher) *Dispatcher {
	return &Dispatcher{
		credentials: credentials,
		providers:   providers,
		publisher:   publisher,
	}
}

// step is one resolved upstream call.
type step struct {
	op       string
	position int
}

const (
	opPause    = "pause"
	opResume   = "resume"
	opRestart  = "restart track"
	opPrevious = "previous"
	opNext     = "next"
	opSeek     = "seek"
)

// Dispatch executes cmd against the session watched by m. Failures are
// logged and sent to the session's subscribers as an error notification;
// they are never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, m *Monitor, cmd playback.Command) {
	log := slog.With(slog.String("session_id", m.SessionID()), slog.String("command", string(cmd.Type)))

	st, known := resolve(m.View(), cmd)
	if !known {
		log.Warn("unknown command ignored")
		metrics.CommandsTotal.WithLabelValues("unknown", "ignored").Inc()
		return
	}
	if st.op == "" {
		log.Debug("no track loaded, command ignored")
		metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "ignored").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cred, err := d.credentials.Valid(ctx, m.SessionID())
	if err != nil {
		d.fail(log, m.SessionID(), cmd, asKind(playback.AuthError, "load credential", err))
		return
	}

	if err := execute(ctx, d.providers.ForToken(cred.AccessToken), st); err != nil {
		d.fail(log, m.SessionID(), cmd, asKind(playback.ProviderError, st.op, err))
		return
	}

	log.Debug("command executed", slog.String("op", st.op))
	metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "ok").Inc()
}

// resolve picks the upstream call for cmd given the session's tracked state.
// An empty op means the command needs no call. known is false for command
// types the widget does not define.
func resolve(v View, cmd playback.Command) (st step, known bool) {
	switch cmd.Type {
	case playback.CommandPauseResume:
		if v.Category == playback.StatePlaying {
			return step{op: opPause}, true
		}
		return step{op: opResume}, true

	case playback.CommandRestartPrevious:
		if v.Track == nil {
			return step{}, true
		}
		if v.ProgressMs > restartThresholdMs {
			return step{op: opRestart}, true
		}
		return step{op: opPrevious}, true

	case playback.CommandNext:
		return step{op: opNext}, true

	case playback.CommandSeek:
		pos := cmd.PositionMs()
		if v.Track != nil && pos > v.Track.DurationMs {
			pos = v.Track.DurationMs
		}
		return step{op: opSeek, position: pos}, true
	}
	return step{}, false
}

func execute(ctx context.Context, p playback.Provider, st step) error {
	switch st.op {
	case opPause:
		return p.Pause(ctx)
	case opResume:
		return p.Resume(ctx)
	case opRestart:
		return p.Seek(ctx, 0)
	case opPrevious:
		return p.Previous(ctx)
	case opNext:
		return p.Next(ctx)
	default:
		return p.Seek(ctx, st.position)
	}
}

func (d *Dispatcher) fail(log *slog.Logger, sessionID string, cmd playback.Command, err error) {
	log.Error("command failed", slog.Any("error", err))
	metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "error").Inc()
	d.publisher.PublishError(sessionID, playback.ErrorNotification{
		SessionID: sessionID,
		Error:     err.Error(),
	})
}
