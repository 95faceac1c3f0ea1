package store

import (
	"context"
	"errors"
	"time"

	"github.com/hookrelay/hookrelay/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type DestinationStore interface {
	Create(ctx context.Context, d *domain.Destination) error
	GetByID(ctx context.Context, id string) (*domain.Destination, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Destination, error)
	Update(ctx context.Context, d *domain.Destination) error
	SetPaused(ctx context.Context, id string, paused bool) error
	Delete(ctx context.Context, id string) error
}

type EventStore interface {
	Create(ctx context.Context, e *domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	ListByDestination(ctx context.Context, destinationID string, status domain.EventStatus, limit int) ([]*domain.Event, error)

	// TransitionStatus applies from→to for the event and reports whether a
	// row changed. A false return with nil error means the event was not in
	// the expected state, which callers treat as "someone else got there
	// first".
	TransitionStatus(ctx context.Context, id string, from, to domain.EventStatus) (bool, error)

	// MarkFailed forces a non-terminal event to FAILED. Used by the
	// exhaustion backstop; a no-op on COMPLETED or already-FAILED rows.
	MarkFailed(ctx context.Context, id string) error

	// ResumePaused flips every PAUSED event of the destination to PENDING
	// and returns the affected event IDs. A second call finds nothing.
	ResumePaused(ctx context.Context, destinationID string) ([]string, error)

	// RecoverFailed flips every FAILED event of the destination to PENDING
	// and returns the affected event IDs.
	RecoverFailed(ctx context.Context, destinationID string) ([]string, error)
}

// DeliveryAttemptStore persists attempt records. All writes go through the
// batcher, so the store only needs the batch form.
type DeliveryAttemptStore interface {
	CreateBatch(ctx context.Context, attempts []*domain.DeliveryAttempt) error
	ListByEvent(ctx context.Context, eventID string) ([]*domain.DeliveryAttempt, error)
}

// ArchiveStore compacts old completed events into per-destination counters.
type ArchiveStore interface {
	// DestinationsWithArchivable lists destinations owning COMPLETED events
	// received before the cutoff.
	DestinationsWithArchivable(ctx context.Context, cutoff time.Time) ([]string, error)

	// ArchiveCompleted, in one transaction, adds the count of the
	// destination's COMPLETED events older than cutoff to its archived
	// counter and deletes those rows. Returns the archived count.
	ArchiveCompleted(ctx context.Context, destinationID string, cutoff time.Time) (int64, error)
}
