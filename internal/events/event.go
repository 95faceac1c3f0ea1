package events

import "time"

type DeliveryStatus string

const (
	DeliveryStatusDelivering DeliveryStatus = "DELIVERING"
	DeliveryStatusDelivered  DeliveryStatus = "DELIVERED"
	DeliveryStatusRetrying   DeliveryStatus = "RETRYING"
	DeliveryStatusFailed     DeliveryStatus = "FAILED"
)

// DeliveryEvent is one in-process status update emitted by the dispatcher
// as it works an event.
type DeliveryEvent struct {
	EventID       string         `json:"event_id"`
	DestinationID string         `json:"destination_id"`
	Status        DeliveryStatus `json:"status"`
	Message       string         `json:"message,omitempty"`
	Attempt       int            `json:"attempt"`
	Timestamp     time.Time      `json:"timestamp"`
}
