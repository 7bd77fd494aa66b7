package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/songify/widget/internal/broker"
	"github.com/songify/widget/internal/playback"
)

// CredentialCache is a Credentials source that can drop a session's cached copy.
type CredentialCache interface {
	Credentials
	Forget(sessionID string)
}

// Registry tracks which sessions have subscribers and keeps exactly one
// running Monitor for each of them.
type Registry struct {
	store       playback.CredentialStore
	credentials CredentialCache
	broker      *broker.Broker
	monitorCfg  Config
	dispatcher  *Dispatcher

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	monitor *Monitor
	subs    map[*broker.Subscription]struct{}
	removed bool
}

// NewRegistry builds a registry. cfg.Credentials and cfg.Publisher are
// overwritten with credentials and b.
func NewRegistry(store playback.CredentialStore, credentials CredentialCache, b *broker.Broker, cfg Config) *Registry {
	cfg.Credentials = credentials
	cfg.Publisher = b
	cfg = cfg.withDefaults()
	return &Registry{
		store:       store,
		credentials: credentials,
		broker:      b,
		monitorCfg:  cfg,
		dispatcher:  NewDispatcher(credentials, cfg.Providers, b),
		entries:     make(map[string]*entry),
	}
}

// Join attaches a new subscriber to a session. The first subscriber starts
// the session's monitor; later ones are served the last known state, polled
// on demand if none has been published yet.
func (r *Registry) Join(ctx context.Context, sessionID string) (*broker.Subscription, error) {
	if _, err := r.store.Get(ctx, sessionID); err != nil {
		if errors.Is(err, playback.ErrCredentialNotFound) {
			return nil, playback.LifecycleError("join", err)
		}
		return nil, fmt.Errorf("load session credential: %w", err)
	}

	for {
		e := r.entryFor(sessionID)

		e.mu.Lock()
		if e.removed {
			// Torn down between lookup and lock; pick up the replacement.
			e.mu.Unlock()
			continue
		}

		var sub *broker.Subscription
		if e.monitor == nil {
			e.monitor = New(sessionID, r.monitorCfg)
			sub, _ = r.broker.Subscribe(sessionID)
			e.monitor.Start()
		} else {
			if r.broker.LastMessage(sessionID) == nil {
				if err := e.monitor.Refresh(ctx); err != nil {
					slog.Warn("late join refresh failed",
						slog.String("session_id", sessionID),
						slog.Any("error", err))
				}
			}
			sub, _ = r.broker.Subscribe(sessionID)
		}
		e.subs[sub] = struct{}{}
		n := len(e.subs)
		e.mu.Unlock()

		slog.Debug("subscriber joined", slog.String("session_id", sessionID), slog.Int("subscribers", n))
		return sub, nil
	}
}

// Leave detaches a subscriber obtained from Join. When the last subscriber
// leaves, the monitor is stopped and the session's cached state discarded.
func (r *Registry) Leave(sub *broker.Subscription) {
	sessionID := sub.SessionID()
	r.broker.Unsubscribe(sub)

	r.mu.Lock()
	e := r.entries[sessionID]
	r.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	if _, ok := e.subs[sub]; !ok {
		return
	}
	delete(e.subs, sub)
	if len(e.subs) > 0 {
		return
	}

	r.teardown(sessionID, e)
	slog.Debug("last subscriber left", slog.String("session_id", sessionID))
}

// Dispatch routes a widget command to the session's live monitor.
func (r *Registry) Dispatch(ctx context.Context, sessionID string, cmd playback.Command) error {
	m := r.liveMonitor(sessionID)
	if m == nil {
		return playback.LifecycleError("dispatch", ErrNotRunning)
	}
	r.dispatcher.Dispatch(ctx, m, cmd)
	return nil
}

// Active reports whether the session currently has a running monitor.
func (r *Registry) Active(sessionID string) bool {
	return r.liveMonitor(sessionID) != nil
}

// SubscriberCount returns how many subscribers joined the session.
func (r *Registry) SubscriberCount(sessionID string) int {
	r.mu.Lock()
	e := r.entries[sessionID]
	r.mu.Unlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Shutdown stops every monitor and closes every subscription.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.Unlock()

	for id, e := range entries {
		e.mu.Lock()
		if !e.removed {
			for sub := range e.subs {
				r.broker.Unsubscribe(sub)
			}
			r.teardown(id, e)
		}
		e.mu.Unlock()
	}
	slog.Info("session registry shut down", slog.Int("sessions", len(entries)))
}

func (r *Registry) entryFor(sessionID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		e = &entry{subs: make(map[*broker.Subscription]struct{})}
		r.entries[sessionID] = e
	}
	return e
}

func (r *Registry) liveMonitor(sessionID string) *Monitor {
	r.mu.Lock()
	e := r.entries[sessionID]
	r.mu.Unlock()
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.monitor == nil || !e.monitor.Running() {
		return nil
	}
	return e.monitor
}

// teardown must be called with e.mu held.
func (r *Registry) teardown(sessionID string, e *entry) {
	if e.monitor != nil {
		e.monitor.Stop()
	}
	r.broker.Forget(sessionID)
	r.credentials.Forget(sessionID)
	e.subs = nil
	e.removed = true

	r.mu.Lock()
	if r.entries[sessionID] == e {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()
}
