package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := mb.Subscribe(ctx, 4)
	defer unsubscribe()

	if ok := mb.Publish(ctx, Event{Type: EventMessageReceived, Channel: "discord", ChatID: "42"}); !ok {
		t.Fatal("publish returned false")
	}

	select {
	case event := <-events:
		if event.Type != EventMessageReceived {
			t.Fatalf("event type = %q, want %q", event.Type, EventMessageReceived)
		}
		if event.At.IsZero() {
			t.Fatal("event timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx := context.Background()
	_, unsubscribe := mb.Subscribe(ctx, 1)
	defer unsubscribe()

	// Buffer of one: the second publish must drop rather than block.
	done := make(chan struct{})
	go func() {
		mb.Publish(ctx, Event{Type: EventAgentReplied})
		mb.Publish(ctx, Event{Type: EventAgentReplied})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestPublishAfterCloseReturnsFalse(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if ok := mb.Publish(context.Background(), Event{Type: EventAgentFailed}); ok {
		t.Fatal("publish after close returned true")
	}
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, _ := mb.Subscribe(ctx, 1)
	cancel()

	select {
	case _, open := <-events:
		if open {
			t.Fatal("expected closed channel after context cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed after cancel")
	}
}
