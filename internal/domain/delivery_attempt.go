package domain

import "time"

// DeliveryAttempt records one forwarding try's outcome. Attempts are
// append-only; rows are never mutated and only disappear when the owning
// event is deleted.
type DeliveryAttempt struct {
	ID      string
	EventID string

	// StatusCode is nil when the attempt failed before getting a response
	// (DNS failure, connect timeout, and so on).
	StatusCode *int

	ResponseSummary string
	Success         bool
	AttemptedAt     time.Time
}
