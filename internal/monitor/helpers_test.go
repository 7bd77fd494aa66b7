package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/songify/widget/internal/playback"
)

// fakeCredentials hands out a fixed access token.
type fakeCredentials struct {
	mu      sync.Mutex
	err     error
	calls   int
	forgets []string
}

func (f *fakeCredentials) Valid(_ context.Context, sessionID string) (playback.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return playback.Credential{}, f.err
	}
	return playback.Credential{ID: sessionID, AccessToken: "access-" + sessionID}, nil
}

func (f *fakeCredentials) Forget(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgets = append(f.forgets, sessionID)
}

func (f *fakeCredentials) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCredentials) forgotten() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.forgets...)
}

// stateResult is one scripted answer of fakeProvider.State.
type stateResult struct {
	snap  playback.Snapshot
	err   error
	panic bool
	// When set, State closes entered and then waits for release.
	entered chan struct{}
	release chan struct{}
}

// fakeProvider replays scripted states (the last one repeats) and records
// control calls.
type fakeProvider struct {
	mu         sync.Mutex
	states     []stateResult
	stateCalls int
	calls      []string
	seeks      []int
	cmdErr     error
	tokens     []string
}

func (f *fakeProvider) ForToken(accessToken string) playback.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, accessToken)
	return f
}

func (f *fakeProvider) script(results ...stateResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, results...)
}

func (f *fakeProvider) State(context.Context) (playback.Snapshot, error) {
	f.mu.Lock()
	var r stateResult
	switch {
	case len(f.states) > 1:
		r = f.states[0]
		f.states = f.states[1:]
	case len(f.states) == 1:
		r = f.states[0]
	default:
		r = stateResult{snap: stopped()}
	}
	f.stateCalls++
	f.mu.Unlock()

	if r.entered != nil {
		close(r.entered)
		<-r.release
	}
	if r.panic {
		panic("upstream decoder exploded")
	}
	return r.snap, r.err
}

func (f *fakeProvider) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.cmdErr
}

func (f *fakeProvider) Pause(context.Context) error    { return f.record("pause") }
func (f *fakeProvider) Resume(context.Context) error   { return f.record("resume") }
func (f *fakeProvider) Previous(context.Context) error { return f.record("previous") }
func (f *fakeProvider) Next(context.Context) error     { return f.record("next") }

func (f *fakeProvider) Seek(_ context.Context, positionMs int) error {
	f.mu.Lock()
	f.seeks = append(f.seeks, positionMs)
	f.mu.Unlock()
	return f.record("seek")
}

func (f *fakeProvider) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateCalls
}

func (f *fakeProvider) controlCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeColors maps image URLs to colours.
type fakeColors struct {
	mu     sync.Mutex
	colors map[string]playback.RGB
	fail   map[string]bool
	calls  []string
}

func newFakeColors() *fakeColors {
	return &fakeColors{
		colors: map[string]playback.RGB{},
		fail:   map[string]bool{},
	}
}

func (f *fakeColors) Extract(_ context.Context, url string) (playback.RGB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.fail[url] {
		return playback.RGB{}, errors.New("image unavailable")
	}
	return f.colors[url], nil
}

func (f *fakeColors) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// chanPublisher captures publications on channels.
type chanPublisher struct {
	mu   sync.Mutex
	last *playback.MonitorMessage
	msgs chan playback.MonitorMessage
	errs chan playback.ErrorNotification
}

func newChanPublisher() *chanPublisher {
	return &chanPublisher{
		msgs: make(chan playback.MonitorMessage, 64),
		errs: make(chan playback.ErrorNotification, 64),
	}
}

func (p *chanPublisher) Publish(_ string, msg playback.MonitorMessage) {
	p.mu.Lock()
	p.last = &msg
	p.mu.Unlock()
	p.msgs <- msg
}

func (p *chanPublisher) PublishError(_ string, n playback.ErrorNotification) {
	p.errs <- n
}

func (p *chanPublisher) LastMessage(string) *playback.MonitorMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *chanPublisher) next(t *testing.T) playback.MonitorMessage {
	t.Helper()
	select {
	case m := <-p.msgs:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published message")
		return playback.MonitorMessage{}
	}
}

func (p *chanPublisher) expectNone(t *testing.T) {
	t.Helper()
	select {
	case m := <-p.msgs:
		t.Fatalf("unexpected message published: %+v", m)
	case <-time.After(20 * time.Millisecond):
	}
}

// fakeStore knows a fixed set of session ids.
type fakeStore struct {
	ids map[string]bool
}

func (s *fakeStore) Get(_ context.Context, id string) (playback.Credential, error) {
	if !s.ids[id] {
		return playback.Credential{}, playback.ErrCredentialNotFound
	}
	return playback.Credential{ID: id}, nil
}

func (s *fakeStore) Update(_ context.Context, c playback.Credential) (playback.Credential, error) {
	return c, nil
}

func (s *fakeStore) Create(context.Context, playback.NewCredential) (string, error) {
	return "", errors.New("not supported")
}

func playing(trackID, deviceID string, progress int) playback.Snapshot {
	return snap(playback.StatePlaying, trackID, deviceID, progress)
}

func paused(trackID, deviceID string, progress int) playback.Snapshot {
	return snap(playback.StatePaused, trackID, deviceID, progress)
}

func stopped() playback.Snapshot {
	return playback.Snapshot{Details: playback.Details{PlayerState: playback.StateStopped}}
}

func snap(state playback.PlayerState, trackID, deviceID string, progress int) playback.Snapshot {
	s := playback.Snapshot{Details: playback.Details{
		PlayerState: state,
		ProgressMs:  progress,
		IsPlaying:   state == playback.StatePlaying,
	}}
	if trackID != "" {
		s.Track = &playback.Track{
			ID:         trackID,
			Name:       "Track " + trackID,
			DurationMs: 240000,
			Album:      &playback.Album{ID: "album-" + trackID, ImageURL: artURL(trackID)},
		}
	}
	if deviceID != "" {
		s.Device = &playback.Device{ID: deviceID, Name: "Device " + deviceID, IsActive: true}
	}
	return s
}

func artURL(trackID string) string {
	return "https://i.scdn.co/image/" + trackID
}

func waitForTicker(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "poll loop never armed its ticker")
}
