// Package monitor runs the per-session playback poll loops, routes widget
// commands to the upstream player and manages which sessions are live.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/songify/widget/internal/metrics"
	"github.com/songify/widget/internal/playback"
)

// ErrNotRunning is the cause of lifecycle errors for sessions without a live monitor.
var ErrNotRunning = errors.New("session monitor is not running")

const (
	DefaultInterval    = time.Second
	defaultTickTimeout = 10 * time.Second
)

// Credentials hands out usable access tokens, refreshing them as needed.
type Credentials interface {
	Valid(ctx context.Context, sessionID string) (playback.Credential, error)
}

// Publisher delivers monitor output to the session's subscribers.
type Publisher interface {
	Publish(sessionID string, msg playback.MonitorMessage)
	PublishError(sessionID string, notification playback.ErrorNotification)
	LastMessage(sessionID string) *playback.MonitorMessage
}

// Config bundles the collaborators shared by every monitor.
type Config struct {
	Credentials Credentials
	Providers   playback.ProviderFactory
	Colors      playback.ColorExtractor
	Publisher   Publisher
	Clock       clockwork.Clock
	Interval    time.Duration
	TickTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = defaultTickTimeout
	}
	return c
}

// View is the part of a session's tracked state that command handling needs.
type View struct {
	Category   playback.PlayerState
	Track      *playback.Track
	ProgressMs int
}

// Monitor owns the poll loop of one session. At most one loop runs per
// Monitor; ticks never overlap.
type Monitor struct {
	sessionID string
	cfg       Config
	log       *slog.Logger

	// tickMu serializes polls (loop ticks and Refresh).
	tickMu sync.Mutex

	// stateMu guards the tracked state below. It is never held across I/O.
	stateMu sync.Mutex
	tracker *playback.StateTracker
	cached  *playback.Snapshot
	color   string

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped monitor for a session.
func New(sessionID string, cfg Config) *Monitor {
	return &Monitor{
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
		log:       slog.With(slog.String("session_id", sessionID)),
		tracker:   playback.NewStateTracker(playback.StateOffline),
		color:     playback.NoTrackColor,
	}
}

func (m *Monitor) SessionID() string {
	return m.sessionID
}

// Running reports whether the poll loop is active.
func (m *Monitor) Running() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.cancel != nil
}

// Start begins polling: once immediately, then every interval. Starting a
// running monitor does nothing.
func (m *Monitor) Start() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.cancel != nil {
		return
	}

	m.stateMu.Lock()
	m.tracker.Reset(playback.StateLoading)
	m.stateMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	metrics.ActiveMonitors.Inc()
	m.log.Info("monitor started", slog.Duration("interval", m.cfg.Interval))

	go m.run(ctx, m.done)
}

// Stop cancels the loop and waits for it to exit. A tick already in flight
// completes, but no further tick is started. The tracked state is reset to
// OFFLINE with nothing cached.
func (m *Monitor) Stop() {
	m.lifeMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.tickMu.Lock()
	m.stateMu.Lock()
	m.tracker.Reset(playback.StateOffline)
	m.cached = nil
	m.color = playback.NoTrackColor
	m.stateMu.Unlock()
	m.tickMu.Unlock()

	metrics.ActiveMonitors.Dec()
	m.log.Info("monitor stopped")
}

// Refresh polls once synchronously, outside the loop's schedule.
func (m *Monitor) Refresh(ctx context.Context) error {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	if !m.Running() {
		return playback.LifecycleError("refresh", ErrNotRunning)
	}
	return m.poll(ctx)
}

// View returns a copy of the tracked category with the latest known track
// and progress.
func (m *Monitor) View() View {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	v := View{Category: m.tracker.Category()}
	if m.cached != nil {
		v.Track = m.cached.Track
		v.ProgressMs = m.cached.Details.ProgressMs
	}
	return v
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.tick(ctx)

	ticker := m.cfg.Clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	if ctx.Err() != nil {
		return
	}

	// A tick that has started runs to completion even if Stop is called meanwhile.
	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.TickTimeout)
	defer cancel()

	if err := m.poll(tickCtx); err != nil {
		m.log.Warn("poll failed, skipping tick", slog.Any("error", err))
	}
}

func (m *Monitor) poll(ctx context.Context) (err error) {
	start := m.cfg.Clock.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.PollTicksTotal.WithLabelValues("panic").Inc()
			err = fmt.Errorf("panic during poll: %v", r)
		}
		metrics.PollDuration.Observe(m.cfg.Clock.Since(start).Seconds())
	}()

	cred, err := m.cfg.Credentials.Valid(ctx, m.sessionID)
	if err != nil {
		metrics.PollTicksTotal.WithLabelValues("auth_error").Inc()
		return asKind(playback.AuthError, "load credential", err)
	}

	snap, err := m.cfg.Providers.ForToken(cred.AccessToken).State(ctx)
	if err != nil {
		metrics.PollTicksTotal.WithLabelValues("provider_error").Inc()
		return asKind(playback.ProviderError, "get playback state", err)
	}
	snap.FillProgress()

	m.stateMu.Lock()
	inSync := m.tracker.InSync(m.cached, snap)
	color := m.color
	m.stateMu.Unlock()

	if !inSync {
		c, err := playback.ColorFor(ctx, m.cfg.Colors, snap)
		if err != nil {
			metrics.ColorExtractionsTotal.WithLabelValues("error").Inc()
			m.log.Warn("color extraction failed, keeping previous color", slog.Any("error", err))
		} else {
			metrics.ColorExtractionsTotal.WithLabelValues("ok").Inc()
			color = c
		}
	}

	m.stateMu.Lock()
	m.cached = &snap
	m.color = color
	m.stateMu.Unlock()

	m.cfg.Publisher.Publish(m.sessionID, playback.MonitorMessage{Snapshot: snap, Color: color, Title: snap.Title()})
	metrics.PollTicksTotal.WithLabelValues("published").Inc()
	return nil
}

// asKind wraps err in the given kind unless it already carries one.
func asKind(kind func(string, error) error, op string, err error) error {
	var perr *playback.Error
	if errors.As(err, &perr) {
		return err
	}
	return kind(op, err)
}
