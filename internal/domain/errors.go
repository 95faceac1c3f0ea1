package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature rejects an inbound event whose signature could not
	// be verified. The event is never persisted.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidTransition rejects an event status change not in the
	// transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnsafeURL rejects a destination URL that resolves into a
	// non-globally-routable range.
	ErrUnsafeURL = errors.New("unsafe destination url")
)

// DeliveryError is a failed forwarding attempt, classified for the retry
// machinery. StatusCode is zero for network-level failures.
type DeliveryError struct {
	StatusCode int
	Fatal      bool
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("delivery failed: %v", e.Cause)
	}
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("delivery failed (%s): status %d", kind, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }
