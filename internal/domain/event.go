package domain

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

type EventStatus string

const (
	EventStatusPending    EventStatus = "PENDING"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusCompleted  EventStatus = "COMPLETED"
	EventStatusFailed     EventStatus = "FAILED"
	EventStatusPaused     EventStatus = "PAUSED"
)

// validTransitions is the enforced status transition table. PAUSED→PENDING
// happens only on explicit resume, FAILED→PENDING only on explicit replay or
// bulk recovery; nothing moves an event out of a terminal state on its own.
var validTransitions = map[EventStatus][]EventStatus{
	EventStatusPending:    {EventStatusProcessing},
	EventStatusProcessing: {EventStatusCompleted, EventStatusFailed},
	EventStatusPaused:     {EventStatusPending},
	EventStatusFailed:     {EventStatusPending},
}

// CanTransition reports whether from→to is in the transition table.
func CanTransition(from, to EventStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Event is one ingested notification awaiting or having completed delivery.
type Event struct {
	ID            string
	DestinationID string
	Payload       json.RawMessage
	Headers       map[string]string
	Status        EventStatus
	ReceivedAt    time.Time
	UpdatedAt     time.Time
}

// Transition moves the event to the given status, rejecting anything not in
// the transition table.
func (e *Event) Transition(to EventStatus) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}
	e.Status = to
	return nil
}
