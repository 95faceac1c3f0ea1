package events

import (
	"sync"
)

type Subscriber struct {
	ID            string
	EventID       string // filter by event ID (empty = all)
	DestinationID string // filter by destination ID (empty = all)
	Events        chan DeliveryEvent
}

// Hub fans delivery status updates out to in-process subscribers (the SSE
// watch endpoint). Slow subscribers drop updates rather than slow down the
// dispatcher.
type Hub struct {
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
	}
}

func (h *Hub) Subscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub.ID] = sub
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		close(sub.Events)
		delete(h.subscribers, id)
	}
}

func (h *Hub) Publish(event DeliveryEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if h.matchesFilter(sub, event) {
			select {
			case sub.Events <- event:
			default:
				// non-blocking: skip if subscriber buffer is full
			}
		}
	}
}

func (h *Hub) matchesFilter(sub *Subscriber, event DeliveryEvent) bool {
	if sub.EventID != "" && sub.EventID != event.EventID {
		return false
	}
	if sub.DestinationID != "" && sub.DestinationID != event.DestinationID {
		return false
	}
	return true
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
