package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	eb := New[int]()
	defer eb.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cleanup := eb.Subscribe(ctx)
	defer cleanup()

	delivered := eb.Publish(42)
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}

	select {
	case v := <-ch:
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	eb := NewWithConfig[int](Config{BufferSize: 1})
	defer eb.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup := eb.Subscribe(ctx)
	defer cleanup()

	eb.Publish(1)
	eb.Publish(2) // buffer full, should be dropped not block

	stats := eb.Stats()
	if stats.TotalDropped != 1 {
		t.Fatalf("expected 1 dropped event, got %d", stats.TotalDropped)
	}
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	eb := New[int]()
	defer eb.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	eb.Subscribe(ctx)
	cancel()

	// give the cleanup goroutine a moment to run
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if eb.Stats().ActiveSubscribers == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("subscriber was not removed after context cancellation")
}

func TestShutdownStopsDelivery(t *testing.T) {
	eb := New[int]()
	ctx := context.Background()
	_, cleanup := eb.Subscribe(ctx)
	defer cleanup()

	eb.Shutdown()

	if delivered := eb.Publish(1); delivered != 0 {
		t.Fatalf("expected no delivery after shutdown, got %d", delivered)
	}
}
