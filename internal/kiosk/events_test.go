package kiosk

import (
	"testing"
	"time"
)

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe()
	b := hub.Subscribe()
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)

	hub.Publish(Event{Type: EventModeChanged, Mode: "live"})

	for _, ch := range []chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Type != EventModeChanged {
				t.Errorf("Expected %s, got %s", EventModeChanged, ev.Type)
			}
			if ev.ID == "" {
				t.Error("Expected an assigned event ID")
			}
			if ev.At.IsZero() {
				t.Error("Expected an assigned timestamp")
			}
		case <-time.After(time.Second):
			t.Fatal("Subscriber never received the event")
		}
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	hub.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("Expected a closed channel after Unsubscribe")
	}

	// Publishing afterwards must not panic on the closed channel.
	hub.Publish(Event{Type: EventFaceDetected})
	hub.Unsubscribe(ch)
}

func TestHub_FullSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			hub.Publish(Event{Type: EventTriggerArmed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}
