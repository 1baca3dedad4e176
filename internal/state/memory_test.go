package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreStatsRoundTrip(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Minute)
	ctx := context.Background()

	if _, err := s.GetStats(ctx, "str_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing stats err = %v, want ErrNotFound", err)
	}

	snap := &Snapshot{StreamID: "str_1", Count: 12, Model: "density"}
	if err := s.UpdateStats(ctx, "str_1", snap); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetStats(ctx, "str_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Count != 12 || got.Model != "density" {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestMemoryStoreStatsExpire(t *testing.T) {
	s := NewMemoryStore(10*time.Millisecond, time.Minute)
	ctx := context.Background()

	_ = s.UpdateStats(ctx, "str_1", &Snapshot{StreamID: "str_1", Count: 1})
	time.Sleep(30 * time.Millisecond)

	if _, err := s.GetStats(ctx, "str_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired stats err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreStatusLifecycle(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Minute)
	ctx := context.Background()

	for _, status := range []string{StatusStarting, StatusRunning, StatusStopped} {
		if err := s.SetStatus(ctx, "str_1", status); err != nil {
			t.Fatalf("set %s: %v", status, err)
		}
		got, err := s.GetStatus(ctx, "str_1")
		if err != nil || got != status {
			t.Fatalf("status = %q, %v; want %q", got, err, status)
		}
	}
}

func TestMemoryStorePubSubDelivers(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Minute)
	ctx := context.Background()

	msgs, cancel, err := s.Subscribe(ctx, "str_1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	want := &LiveMessage{Type: "frame_stats", Count: 9}
	if err := s.Publish(ctx, "str_1", want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-msgs:
		if got.Count != 9 {
			t.Fatalf("message count = %d, want 9", got.Count)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message delivered")
	}
}

func TestMemoryStorePublishIsStreamScoped(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Minute)
	ctx := context.Background()

	msgs, cancel, _ := s.Subscribe(ctx, "str_a")
	defer cancel()

	_ = s.Publish(ctx, "str_b", &LiveMessage{Count: 1})

	select {
	case got := <-msgs:
		t.Fatalf("received another stream's message: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStoreCancelStopsDelivery(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Minute)
	ctx := context.Background()

	msgs, cancel, _ := s.Subscribe(ctx, "str_1")
	cancel()
	cancel() // idempotent

	if _, ok := <-msgs; ok {
		t.Fatalf("channel still open after cancel")
	}
	// Publishing after cancel must not panic on a closed channel.
	if err := s.Publish(ctx, "str_1", &LiveMessage{}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestMemoryStoreSlowSubscriberDropsNotBlocks(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Minute)
	ctx := context.Background()

	_, cancel, _ := s.Subscribe(ctx, "str_1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = s.Publish(ctx, "str_1", &LiveMessage{Count: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publisher blocked on a slow subscriber")
	}
}
