package broker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/songify/widget/internal/playback"
)

func message(trackID string, progress int) playback.MonitorMessage {
	return playback.MonitorMessage{
		Snapshot: playback.Snapshot{
			Track:   &playback.Track{ID: trackID},
			Details: playback.Details{PlayerState: playback.StatePlaying, ProgressMs: progress},
		},
		Color: "1,2,3,",
	}
}

func next(t *testing.T, sub *Subscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	e, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("expected event, got %v", err)
	}
	return e
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if e, err := sub.Next(ctx); err == nil {
		t.Fatalf("expected no event, got %+v", e)
	}
}

func TestSubscribeAndPublish(t *testing.T) {
	b := New()
	sub, initial := b.Subscribe("sess1")
	defer b.Unsubscribe(sub)

	if initial != nil {
		t.Fatalf("expected no initial message, got %+v", initial)
	}

	b.Publish("sess1", message("a", 0))

	e := next(t, sub)
	if e.Kind != EventSyncTrack || e.Message.Track.ID != "a" {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestLateJoinReceivesLastMessage(t *testing.T) {
	b := New()
	b.Publish("sess1", message("a", 1000))

	sub, initial := b.Subscribe("sess1")
	defer b.Unsubscribe(sub)

	if initial == nil || initial.Details.ProgressMs != 1000 {
		t.Fatalf("expected cached message, got %+v", initial)
	}
	e := next(t, sub)
	if e.Message.Details.ProgressMs != 1000 {
		t.Fatalf("expected replay of last message, got %+v", e.Message)
	}
}

func TestPublishKeepsOrderPerSubscriber(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe("sess1")
	defer b.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		b.Publish("sess1", message("a", i))
		e := next(t, sub)
		if e.Message.Details.ProgressMs != i {
			t.Fatalf("event %d: progress = %d", i, e.Message.Details.ProgressMs)
		}
	}
	expectNone(t, sub)
}

func TestStalledSubscriberKeepsOnlyNewestSync(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe("sess1")
	defer b.Unsubscribe(sub)

	// Publish many times without reading; must not block or grow the queue.
	for i := 0; i < 100; i++ {
		b.Publish("sess1", message("a", i))
	}
	if got := sub.Pending(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	e := next(t, sub)
	if e.Message.Details.ProgressMs != 99 {
		t.Fatalf("progress = %d, want newest", e.Message.Details.ProgressMs)
	}
	expectNone(t, sub)
}

func TestErrorsSurviveSupersededSync(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe("sess1")
	defer b.Unsubscribe(sub)

	b.Publish("sess1", message("a", 0))
	b.PublishError("sess1", playback.ErrorNotification{SessionID: "sess1", Error: "first"})
	b.Publish("sess1", message("a", 1000))
	b.PublishError("sess1", playback.ErrorNotification{SessionID: "sess1", Error: "second"})
	b.Publish("sess1", message("b", 0))

	if got := sub.Pending(); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}
	if e := next(t, sub); e.Kind != EventError || e.Error.Error != "first" {
		t.Fatalf("unexpected event %+v", e)
	}
	if e := next(t, sub); e.Kind != EventError || e.Error.Error != "second" {
		t.Fatalf("unexpected event %+v", e)
	}
	if e := next(t, sub); e.Kind != EventSyncTrack || e.Message.Track.ID != "b" {
		t.Fatalf("unexpected event %+v", e)
	}
	expectNone(t, sub)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe("sess1")
	b.Unsubscribe(sub)

	b.Publish("sess1", message("a", 0))

	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCrossSessionIsolation(t *testing.T) {
	b := New()
	sub1, _ := b.Subscribe("sess1")
	sub2, _ := b.Subscribe("sess2")
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	b.Publish("sess1", message("a", 0))

	next(t, sub1)
	expectNone(t, sub2)
	if b.LastMessage("sess2") != nil {
		t.Fatal("sess2 should have no cached message")
	}
}

func TestPublishErrorIsNotCached(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe("sess1")
	defer b.Unsubscribe(sub)

	b.PublishError("sess1", playback.ErrorNotification{SessionID: "sess1", Error: "no active device"})

	e := next(t, sub)
	if e.Kind != EventError || e.Error.Error != "no active device" {
		t.Fatalf("unexpected event %+v", e)
	}
	if b.LastMessage("sess1") != nil {
		t.Fatal("errors must not replace the cached message")
	}
	if got := e.Payload().(*playback.ErrorNotification); got.SessionID != "sess1" {
		t.Fatalf("payload session = %q", got.SessionID)
	}
}

func TestForgetDropsCache(t *testing.T) {
	b := New()
	b.Publish("sess1", message("a", 0))
	b.Forget("sess1")

	if b.LastMessage("sess1") != nil {
		t.Fatal("expected cache to be cleared")
	}
	sub, initial := b.Subscribe("sess1")
	defer b.Unsubscribe(sub)
	if initial != nil {
		t.Fatal("expected no replay after Forget")
	}
}

func TestUnsubscribeCleansUpEmptySession(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe("sess1")
	if got := b.SubscriberCount("sess1"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}
	b.Unsubscribe(sub)

	b.mu.Lock()
	_, exists := b.subs["sess1"]
	b.mu.Unlock()

	if exists {
		t.Fatal("expected session entry to be removed after last unsubscribe")
	}
	// Unsubscribing twice is harmless
	b.Unsubscribe(sub)
}

func TestPublishToNonexistentSession(t *testing.T) {
	b := New()
	// Should not panic
	b.Publish("nonexistent", message("a", 0))
	b.PublishError("nonexistent", playback.ErrorNotification{})
}

func TestNextHonoursContext(t *testing.T) {
	b := New()
	sub, _ := b.Subscribe("sess1")
	defer b.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	b := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, _ := b.Subscribe("sess1")
			b.Publish("sess1", message(strconv.Itoa(i), i))
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := sub.Next(ctx); err != nil {
				t.Errorf("subscriber %d: %v", i, err)
			}
			b.Unsubscribe(sub)
		}(i)
	}

	wg.Wait()
}
