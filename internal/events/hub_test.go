package events

import (
	"sync"
	"testing"
	"time"
)

func TestHubSubscribeAndPublish(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{
		ID:     "test-sub-1",
		Events: make(chan DeliveryEvent, 10),
	}
	hub.Subscribe(sub)

	event := DeliveryEvent{
		EventID:       "evt-1",
		DestinationID: "dest-1",
		Status:        DeliveryStatusDelivered,
		Message:       "200 OK",
		Attempt:       1,
		Timestamp:     time.Now(),
	}

	hub.Publish(event)

	select {
	case received := <-sub.Events:
		if received.EventID != event.EventID {
			t.Errorf("expected event ID %s, got %s", event.EventID, received.EventID)
		}
		if received.Status != event.Status {
			t.Errorf("expected status %s, got %s", event.Status, received.Status)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestHubBroadcastToMultipleSubscribers(t *testing.T) {
	hub := NewHub()

	subs := []*Subscriber{
		{ID: "sub-1", Events: make(chan DeliveryEvent, 10)},
		{ID: "sub-2", Events: make(chan DeliveryEvent, 10)},
		{ID: "sub-3", Events: make(chan DeliveryEvent, 10)},
	}
	for _, sub := range subs {
		hub.Subscribe(sub)
	}

	hub.Publish(DeliveryEvent{EventID: "evt-broadcast", Status: DeliveryStatusDelivered})

	for _, sub := range subs {
		select {
		case received := <-sub.Events:
			if received.EventID != "evt-broadcast" {
				t.Errorf("subscriber %s: got event ID %s", sub.ID, received.EventID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %s: timeout waiting for event", sub.ID)
		}
	}
}

func TestHubFilterByEventID(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{
		ID:      "filtered-sub",
		EventID: "target-evt",
		Events:  make(chan DeliveryEvent, 10),
	}
	hub.Subscribe(sub)

	hub.Publish(DeliveryEvent{EventID: "target-evt", Status: DeliveryStatusDelivered})
	hub.Publish(DeliveryEvent{EventID: "other-evt", Status: DeliveryStatusFailed})

	select {
	case received := <-sub.Events:
		if received.EventID != "target-evt" {
			t.Errorf("expected target-evt, got %s", received.EventID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for matching event")
	}

	select {
	case <-sub.Events:
		t.Error("should not receive non-matching event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubFilterByDestinationID(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{
		ID:            "dest-filtered-sub",
		DestinationID: "target-dest",
		Events:        make(chan DeliveryEvent, 10),
	}
	hub.Subscribe(sub)

	hub.Publish(DeliveryEvent{DestinationID: "target-dest", EventID: "evt-1"})
	hub.Publish(DeliveryEvent{DestinationID: "other-dest", EventID: "evt-2"})

	select {
	case received := <-sub.Events:
		if received.DestinationID != "target-dest" {
			t.Errorf("expected target-dest, got %s", received.DestinationID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for matching event")
	}

	select {
	case <-sub.Events:
		t.Error("should not receive non-matching event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{ID: "sub-1", Events: make(chan DeliveryEvent, 10)}
	hub.Subscribe(sub)
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}

	hub.Unsubscribe("sub-1")
	if hub.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.SubscriberCount())
	}

	if _, open := <-sub.Events; open {
		t.Error("expected channel closed after unsubscribe")
	}
}

func TestHubFullSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{ID: "slow-sub", Events: make(chan DeliveryEvent, 1)}
	hub.Subscribe(sub)

	done := make(chan struct{})
	go func() {
		for range 10 {
			hub.Publish(DeliveryEvent{EventID: "evt-flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestHubConcurrentSubscribePublish(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			sub := &Subscriber{ID: string(rune('a' + i)), Events: make(chan DeliveryEvent, 100)}
			hub.Subscribe(sub)
		}(i)
		go func() {
			defer wg.Done()
			hub.Publish(DeliveryEvent{EventID: "evt-race"})
		}()
	}
	wg.Wait()
}
