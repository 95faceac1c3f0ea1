// Package lifecycle owns the explicit event state resets: pausing and
// resuming a destination's delivery, replaying a single failed event, and
// bulk recovery of everything a destination has failed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/queue"
	"github.com/hookrelay/hookrelay/internal/store"
)

type Controller struct {
	destinations store.DestinationStore
	events       store.EventStore
	enqueuer     queue.Enqueuer

	// onChange is called after a destination's pause state flips, so the
	// ingest snapshot cache does not serve the old state for a full TTL.
	onChange func(ctx context.Context, destinationID string)
}

func NewController(
	destinations store.DestinationStore,
	events store.EventStore,
	enqueuer queue.Enqueuer,
	onChange func(ctx context.Context, destinationID string),
) *Controller {
	if onChange == nil {
		onChange = func(context.Context, string) {}
	}
	return &Controller{
		destinations: destinations,
		events:       events,
		enqueuer:     enqueuer,
		onChange:     onChange,
	}
}

// SetPaused flips the destination's pause flag. Pausing touches nothing
// else: already-scheduled work keeps flowing and only new events buffer.
// Resuming flips every buffered PAUSED event to PENDING and schedules one
// work item per event; it returns how many were flushed. Because the
// transition is scoped to PAUSED rows, calling resume twice enqueues
// nothing the second time.
func (c *Controller) SetPaused(ctx context.Context, destinationID string, paused bool) (int, error) {
	ctx = logging.WithDestination(ctx, destinationID)
	l := logging.FromContext(ctx)

	if err := c.destinations.SetPaused(ctx, destinationID, paused); err != nil {
		return 0, err
	}
	c.onChange(ctx, destinationID)

	if paused {
		l.Info("destination paused", slog.String("code", "DEST_PAUSE"))
		return 0, nil
	}

	ids, err := c.events.ResumePaused(ctx, destinationID)
	if err != nil {
		return 0, fmt.Errorf("resume paused events: %w", err)
	}
	if len(ids) > 0 {
		if err := c.enqueuer.EnqueueBulk(ctx, ids); err != nil {
			return 0, fmt.Errorf("schedule resumed events: %w", err)
		}
	}

	l.Info("destination resumed", slog.String("code", "DEST_RESUME"), slog.Int("flushed", len(ids)))
	return len(ids), nil
}

// Replay puts one FAILED event back on the queue.
func (c *Controller) Replay(ctx context.Context, eventID string) error {
	ctx = logging.WithEventID(ctx, eventID)

	event, err := c.events.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status != domain.EventStatusFailed {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, event.Status, domain.EventStatusPending)
	}

	applied, err := c.events.TransitionStatus(ctx, eventID, domain.EventStatusFailed, domain.EventStatusPending)
	if err != nil {
		return fmt.Errorf("replay event: %w", err)
	}
	if !applied {
		// a concurrent replay won the race and already enqueued it
		return nil
	}

	if err := c.enqueuer.Enqueue(ctx, eventID); err != nil {
		return fmt.Errorf("schedule replayed event: %w", err)
	}

	logging.FromContext(ctx).Info("event replayed", slog.String("code", "EVT_REPLAY"))
	return nil
}

// Recover replays every FAILED event of the destination in bulk and
// returns how many were recovered.
func (c *Controller) Recover(ctx context.Context, destinationID string) (int, error) {
	ctx = logging.WithDestination(ctx, destinationID)

	if _, err := c.destinations.GetByID(ctx, destinationID); err != nil {
		return 0, err
	}

	ids, err := c.events.RecoverFailed(ctx, destinationID)
	if err != nil {
		return 0, fmt.Errorf("recover failed events: %w", err)
	}
	if len(ids) > 0 {
		if err := c.enqueuer.EnqueueBulk(ctx, ids); err != nil {
			return 0, fmt.Errorf("schedule recovered events: %w", err)
		}
	}

	logging.FromContext(ctx).Info("failed events recovered",
		slog.String("code", "EVT_RECOVER"), slog.Int("recovered", len(ids)))
	return len(ids), nil
}

// IsNotFound reports whether err should surface as a 404 to callers.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
