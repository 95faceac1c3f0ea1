// Package queue is the durable work queue the dispatcher consumes. A work
// item carries only the event ID; the dispatcher re-fetches the event from
// the store on every attempt so it never acts on stale data.
package queue

import (
	"context"
	"time"
)

// WorkItem is the wire form of one scheduled delivery.
type WorkItem struct {
	EventID string `json:"event_id"`
}

// Message is one leased work item. Exactly one of Ack, RetryAfter, or
// Discard must be called per lease.
type Message interface {
	EventID() string

	// Attempt is the 1-based delivery count for this work item, including
	// the current lease.
	Attempt() int

	// Ack removes the work item; the event reached a terminal state.
	Ack() error

	// RetryAfter schedules redelivery no sooner than d from now.
	RetryAfter(d time.Duration) error

	// Discard drops the work item without counting further attempts.
	Discard() error
}

// Consumer leases scheduled work items.
type Consumer interface {
	Fetch(ctx context.Context, batch int) ([]Message, error)
}

// Enqueuer schedules deliveries.
type Enqueuer interface {
	Enqueue(ctx context.Context, eventID string) error
	EnqueueBulk(ctx context.Context, eventIDs []string) error
}
