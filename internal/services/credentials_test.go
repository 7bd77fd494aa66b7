package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songify/widget/internal/playback"
)

type memoryStore struct {
	mu      sync.Mutex
	creds   map[string]playback.Credential
	gets    int
	updates []playback.Credential
	failPut error
}

func newMemoryStore(creds ...playback.Credential) *memoryStore {
	s := &memoryStore{creds: map[string]playback.Credential{}}
	for _, c := range creds {
		s.creds[c.ID] = c
	}
	return s
}

func (s *memoryStore) Get(_ context.Context, id string) (playback.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	c, ok := s.creds[id]
	if !ok {
		return playback.Credential{}, playback.ErrCredentialNotFound
	}
	return c, nil
}

func (s *memoryStore) Update(_ context.Context, c playback.Credential) (playback.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return playback.Credential{}, s.failPut
	}
	s.updates = append(s.updates, c)
	s.creds[c.ID] = c
	return c, nil
}

func (s *memoryStore) Create(_ context.Context, c playback.NewCredential) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "id-" + c.Email
	s.creds[id] = playback.Credential{ID: id, AccessToken: c.AccessToken, RefreshToken: c.RefreshToken, ExpiresAt: c.ExpiresAt}
	return id, nil
}

type fakeRefresher struct {
	mu      sync.Mutex
	calls   int
	grant   TokenGrant
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeRefresher) RefreshToken(_ context.Context, refreshToken string) (TokenGrant, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.grant, f.err
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCredentialManager_ValidTokenIsNotRefreshed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newMemoryStore(playback.Credential{ID: "s1", AccessToken: "at", RefreshToken: "rt", ExpiresAt: clock.Now().Add(time.Hour)})
	refresher := &fakeRefresher{}
	mgr := NewCredentialManager(store, refresher, clock)

	cred, err := mgr.Valid(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "at", cred.AccessToken)

	_, err = mgr.Valid(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets, "second call is served from cache")
	assert.Zero(t, refresher.callCount())
}

func TestCredentialManager_RefreshesExpiredToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newMemoryStore(playback.Credential{ID: "s1", AccessToken: "old", RefreshToken: "rt", ExpiresAt: clock.Now()})
	refresher := &fakeRefresher{grant: TokenGrant{AccessToken: "new", ExpiresIn: time.Hour}}
	mgr := NewCredentialManager(store, refresher, clock)

	cred, err := mgr.Valid(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, "new", cred.AccessToken)
	assert.Equal(t, "rt", cred.RefreshToken, "refresh token kept when none is returned")
	assert.Equal(t, clock.Now().Add(time.Hour), cred.ExpiresAt)
	assert.True(t, cred.ExpiresAt.After(clock.Now()))
	require.Len(t, store.updates, 1)
	assert.Equal(t, cred, store.updates[0])
}

func TestCredentialManager_RefreshAfterCachedExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newMemoryStore(playback.Credential{ID: "s1", AccessToken: "at", RefreshToken: "rt", ExpiresAt: clock.Now().Add(time.Minute)})
	refresher := &fakeRefresher{grant: TokenGrant{AccessToken: "at2", RefreshToken: "rt2", ExpiresIn: time.Hour}}
	mgr := NewCredentialManager(store, refresher, clock)

	_, err := mgr.Valid(context.Background(), "s1")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	cred, err := mgr.Valid(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, "at2", cred.AccessToken)
	assert.Equal(t, "rt2", cred.RefreshToken)
	assert.Equal(t, 1, refresher.callCount())
	assert.Equal(t, 1, store.gets)
}

func TestCredentialManager_ConcurrentCallersRefreshOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newMemoryStore(playback.Credential{ID: "s1", AccessToken: "old", RefreshToken: "rt", ExpiresAt: clock.Now().Add(-time.Second)})
	refresher := &fakeRefresher{
		grant:   TokenGrant{AccessToken: "new", ExpiresIn: time.Hour},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	mgr := NewCredentialManager(store, refresher, clock)

	results := make([]playback.Credential, 2)
	var wg sync.WaitGroup
	call := func(i int) {
		defer wg.Done()
		cred, err := mgr.Valid(context.Background(), "s1")
		assert.NoError(t, err)
		results[i] = cred
	}

	wg.Add(2)
	go call(0)
	<-refresher.started
	go call(1)
	time.Sleep(20 * time.Millisecond)
	close(refresher.release)
	wg.Wait()

	assert.Equal(t, 1, refresher.callCount())
	assert.Len(t, store.updates, 1)
	assert.Equal(t, "new", results[0].AccessToken)
	assert.Equal(t, "new", results[1].AccessToken)
	assert.True(t, results[1].ExpiresAt.After(clock.Now()))
}

func TestCredentialManager_Errors(t *testing.T) {
	clock := clockwork.NewFakeClock()

	t.Run("unknown session", func(t *testing.T) {
		mgr := NewCredentialManager(newMemoryStore(), &fakeRefresher{}, clock)
		_, err := mgr.Valid(context.Background(), "missing")
		assert.ErrorIs(t, err, playback.ErrAuth)
		assert.ErrorIs(t, err, playback.ErrCredentialNotFound)
	})

	t.Run("refresh rejected", func(t *testing.T) {
		store := newMemoryStore(playback.Credential{ID: "s1", RefreshToken: "revoked", ExpiresAt: clock.Now()})
		mgr := NewCredentialManager(store, &fakeRefresher{err: errors.New("invalid_grant")}, clock)
		_, err := mgr.Valid(context.Background(), "s1")
		assert.ErrorIs(t, err, playback.ErrAuth)
		assert.Empty(t, store.updates)
	})

	t.Run("persist failure", func(t *testing.T) {
		store := newMemoryStore(playback.Credential{ID: "s1", RefreshToken: "rt", ExpiresAt: clock.Now()})
		store.failPut = errors.New("disk full")
		mgr := NewCredentialManager(store, &fakeRefresher{grant: TokenGrant{AccessToken: "x", ExpiresIn: time.Hour}}, clock)
		_, err := mgr.Valid(context.Background(), "s1")
		assert.Error(t, err)
		_, cached := mgr.lookup("s1")
		assert.False(t, cached, "unpersisted tokens are not cached")
	})
}

func TestCredentialManager_ForgetReloads(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newMemoryStore(playback.Credential{ID: "s1", AccessToken: "at", ExpiresAt: clock.Now().Add(time.Hour)})
	mgr := NewCredentialManager(store, &fakeRefresher{}, clock)

	_, err := mgr.Valid(context.Background(), "s1")
	require.NoError(t, err)
	mgr.Forget("s1")
	_, err = mgr.Valid(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, 2, store.gets)
}
