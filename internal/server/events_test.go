package server

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	dispatcher.Publish(Event{Type: EventTabChanged, EntityID: "tab-1", Timestamp: time.Now()})

	select {
	case received := <-stream:
		if received.Type != EventTabChanged || received.EntityID != "tab-1" {
			t.Fatalf("unexpected event: %#v", received)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestDispatcherDropsEventsForFullSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	for i := 0; i < 64; i++ {
		dispatcher.Publish(Event{Type: EventTabChanged, EntityID: "tab-1"})
	}

	drained := 0
	for {
		select {
		case <-stream:
			drained++
		default:
			if drained == 0 || drained > 16 {
				t.Fatalf("expected buffered delivery with overflow dropped, drained %d", drained)
			}
			return
		}
	}
}

func TestDispatcherUnsubscribesOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, _ := dispatcher.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers)
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected subscriber to be removed after cancel")
		case <-time.After(10 * time.Millisecond):
		}
	}

	dispatcher.Publish(Event{Type: EventTabChanged, EntityID: "tab-1"})
	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("expected no delivery after unsubscribe")
		}
	default:
	}
}

func TestPublishIgnoresUntypedEvents(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	dispatcher.Publish(Event{EntityID: "tab-1"})
	select {
	case <-stream:
		t.Fatal("expected untyped event to be dropped")
	default:
	}
}
