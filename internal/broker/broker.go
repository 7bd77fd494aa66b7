// Package broker provides an in-memory pub/sub mechanism scoped by session ID.
// It fans monitor messages out to every widget connected to a session and
// remembers the last message so late joiners are served immediately.
package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/songify/widget/internal/metrics"
	"github.com/songify/widget/internal/playback"
)

// ErrClosed is returned by Subscription.Next once the subscription has been
// removed from the broker.
var ErrClosed = errors.New("subscription closed")

// EventKind distinguishes regular state updates from out-of-band errors.
type EventKind string

const (
	EventSyncTrack EventKind = "sync_track"
	EventError     EventKind = "error"
)

// Event is one item delivered to a subscription.
type Event struct {
	Kind    EventKind
	Message *playback.MonitorMessage
	Error   *playback.ErrorNotification
}

// Payload returns the value that should be serialized for this event.
func (e Event) Payload() any {
	if e.Kind == EventError {
		return e.Error
	}
	return e.Message
}

// Broker is a session-scoped pub/sub hub. Publishing never blocks: each
// subscription queues events and is woken through a buffered(1) signal
// channel, so multiple rapid publishes coalesce into a single wake-up. A
// subscription holds at most one undelivered sync_track; a newer one replaces
// it at the back of the queue. Error events are always kept, in order.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
	last map[string]*playback.MonitorMessage
}

// New creates a ready-to-use Broker.
func New() *Broker {
	return &Broker{
		subs: make(map[string]map[*Subscription]struct{}),
		last: make(map[string]*playback.MonitorMessage),
	}
}

// Subscribe registers a new subscription for the session. If a message has
// already been published for the session it is queued on the subscription
// right away and also returned.
func (b *Broker) Subscribe(sessionID string) (*Subscription, *playback.MonitorMessage) {
	sub := newSubscription(sessionID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*Subscription]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	metrics.BrokerSubscribers.Inc()

	last := b.last[sessionID]
	if last != nil {
		sub.deliver(Event{Kind: EventSyncTrack, Message: last})
	}
	return sub, last
}

// Unsubscribe removes a subscription from its session and closes it.
// If the session has no remaining subscribers, the entry is cleaned up.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[sub.sessionID]; ok {
		if _, found := subs[sub]; found {
			delete(subs, sub)
			metrics.BrokerSubscribers.Dec()
		}
		if len(subs) == 0 {
			delete(b.subs, sub.sessionID)
		}
	}
	sub.close()
}

// Publish caches msg as the session's last message and delivers it to every
// current subscriber.
func (b *Broker) Publish(sessionID string, msg playback.MonitorMessage) {
	m := &msg

	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[sessionID] = m
	for sub := range b.subs[sessionID] {
		sub.deliver(Event{Kind: EventSyncTrack, Message: m})
	}
	metrics.BrokerPublishedTotal.WithLabelValues(string(EventSyncTrack)).Inc()
}

// PublishError delivers an out-of-band error notification. It is not cached.
func (b *Broker) PublishError(sessionID string, notification playback.ErrorNotification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[sessionID] {
		sub.deliver(Event{Kind: EventError, Error: &notification})
	}
	metrics.BrokerPublishedTotal.WithLabelValues(string(EventError)).Inc()
}

// LastMessage returns the last message published for the session, or nil.
func (b *Broker) LastMessage(sessionID string) *playback.MonitorMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[sessionID]
}

// Forget drops the cached last message of a session.
func (b *Broker) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.last, sessionID)
}

// SubscriberCount returns the number of subscriptions attached to a session.
func (b *Broker) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// Subscription is one listener's handle on a session's events.
type Subscription struct {
	sessionID string
	signal    chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
}

func newSubscription(sessionID string) *Subscription {
	return &Subscription{
		sessionID: sessionID,
		signal:    make(chan struct{}, 1),
	}
}

// SessionID returns the session this subscription belongs to.
func (s *Subscription) SessionID() string {
	return s.sessionID
}

func (s *Subscription) deliver(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if e.Kind == EventSyncTrack {
		s.dropPendingSync()
	}
	s.queue = append(s.queue, e)
	select {
	case s.signal <- struct{}{}:
	default:
	}
	s.mu.Unlock()
}

// dropPendingSync removes a queued sync_track that a newer one supersedes.
// Callers hold s.mu.
func (s *Subscription) dropPendingSync() {
	for i, queued := range s.queue {
		if queued.Kind == EventSyncTrack {
			copy(s.queue[i:], s.queue[i+1:])
			s.queue[len(s.queue)-1] = Event{}
			s.queue = s.queue[:len(s.queue)-1]
			metrics.BrokerSupersededTotal.Inc()
			return
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.signal)
}

// Next blocks until an event is available, the subscription is closed
// (ErrClosed) or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Event{}, ErrClosed
		}
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return e, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// Pending returns the number of queued, undelivered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
