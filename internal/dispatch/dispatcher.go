// Package dispatch consumes scheduled work items, performs the outbound
// delivery attempt, classifies the outcome, and finalizes or reschedules
// the event.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/hookrelay/hookrelay/internal/attemptlog"
	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/events"
	"github.com/hookrelay/hookrelay/internal/httpclient"
	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/queue"
	"github.com/hookrelay/hookrelay/internal/retry"
	"github.com/hookrelay/hookrelay/internal/smoother"
	"github.com/hookrelay/hookrelay/internal/store"
)

type Dispatcher struct {
	events       store.EventStore
	destinations store.DestinationStore
	consumer     queue.Consumer
	client       *httpclient.Client
	smoother     *smoother.Smoother
	batcher      *attemptlog.Batcher
	hub          *events.Hub
	policy       retry.Policy
	workers      int

	sleep func(ctx context.Context, d time.Duration)
}

func New(
	eventStore store.EventStore,
	destinations store.DestinationStore,
	consumer queue.Consumer,
	client *httpclient.Client,
	sm *smoother.Smoother,
	batcher *attemptlog.Batcher,
	hub *events.Hub,
	policy retry.Policy,
	workers int,
) *Dispatcher {
	return &Dispatcher{
		events:       eventStore,
		destinations: destinations,
		consumer:     consumer,
		client:       client,
		smoother:     sm,
		batcher:      batcher,
		hub:          hub,
		policy:       policy,
		workers:      workers,
		sleep:        sleepWithContext,
	}
}

// Run consumes work items with a bounded pool of workers until ctx is
// cancelled, then waits for in-flight attempts to complete or time out.
func (d *Dispatcher) Run(ctx context.Context) error {
	workers := pool.New().WithMaxGoroutines(d.workers)
	defer workers.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := d.consumer.Fetch(ctx, d.workers)
		if err != nil {
			slog.Error("error fetching work items", slog.String("code", "QUEUE_FETCH"), slog.Any("error", err))
			d.sleep(ctx, time.Second)
			continue
		}

		for _, msg := range msgs {
			workers.Go(func() {
				d.Process(ctx, msg)
			})
		}
	}
}

// Process works one leased item through the full attempt state machine. It
// never returns an error: every failure path either finalizes the event or
// hands the item back to the queue.
func (d *Dispatcher) Process(ctx context.Context, msg queue.Message) {
	ctx = logging.WithEventID(ctx, msg.EventID())
	l := logging.FromContext(ctx)

	event, err := d.events.GetByID(ctx, msg.EventID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// archived or cascaded away between scheduling and pop
			_ = msg.Discard()
			return
		}
		l.Error("failed to load event", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		_ = msg.RetryAfter(d.policy.Delay(msg.Attempt() - 1))
		return
	}

	switch event.Status {
	case domain.EventStatusCompleted, domain.EventStatusFailed:
		// stale work item for an already-finalized event
		_ = msg.Ack()
		return
	case domain.EventStatusPaused:
		// paused events hold no work item; this one predates the pause
		_ = msg.Discard()
		return
	case domain.EventStatusPending:
		if _, err := d.events.TransitionStatus(ctx, event.ID, domain.EventStatusPending, domain.EventStatusProcessing); err != nil {
			l.Error("failed to mark event processing", slog.String("code", "DB_ERROR"), slog.Any("error", err))
			_ = msg.RetryAfter(d.policy.Delay(msg.Attempt() - 1))
			return
		}
	case domain.EventStatusProcessing:
		// redelivery of an item whose earlier attempt failed
	}

	dest, err := d.destinations.GetByID(ctx, event.DestinationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = msg.Discard()
			return
		}
		l.Error("failed to load destination", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		_ = msg.RetryAfter(d.policy.Delay(msg.Attempt() - 1))
		return
	}
	ctx = logging.WithDestination(ctx, dest.ID)
	l = logging.FromContext(ctx)

	if delay, err := d.smoother.Admit(ctx, dest.ID, dest.RateLimit); err != nil {
		// a broken counter store must not halt deliveries
		l.Warn("traffic smoother unavailable, proceeding", slog.Any("error", err))
	} else if delay > 0 {
		l.Info("smoothing delivery burst", slog.String("code", "SMOOTH_DELAY"), slog.Duration("delay", delay))
		d.sleep(ctx, delay)
	}

	d.hub.Publish(events.DeliveryEvent{
		EventID:       event.ID,
		DestinationID: dest.ID,
		Status:        events.DeliveryStatusDelivering,
		Attempt:       msg.Attempt(),
		Timestamp:     time.Now(),
	})

	// once committed to delivering, the attempt runs detached from shutdown
	// cancellation so an in-flight request completes or times out on the
	// client's own deadline; only the fetch loop and the smoothing sleep
	// react to a shutdown signal
	d.attempt(context.WithoutCancel(ctx), msg, event, dest)
}

func (d *Dispatcher) attempt(ctx context.Context, msg queue.Message, event *domain.Event, dest *domain.Destination) {
	l := logging.FromContext(ctx)

	resp, err := d.client.Forward(ctx, dest.URL, event.Payload, event.Headers)

	attempt := &domain.DeliveryAttempt{
		ID:          uuid.New().String(),
		EventID:     event.ID,
		AttemptedAt: time.Now(),
	}

	var delErr *domain.DeliveryError
	switch {
	case err != nil:
		// no response at all; always transient
		attempt.ResponseSummary = err.Error()
		delErr = &domain.DeliveryError{Cause: err}
	case IsSuccess(resp.StatusCode):
		code := resp.StatusCode
		attempt.StatusCode = &code
		attempt.ResponseSummary = resp.Body
		attempt.Success = true
	default:
		code := resp.StatusCode
		attempt.StatusCode = &code
		attempt.ResponseSummary = resp.Body
		delErr = &domain.DeliveryError{StatusCode: resp.StatusCode, Fatal: IsFatal(resp.StatusCode)}
	}

	d.batcher.Record(attempt)

	if attempt.Success {
		if _, err := d.events.TransitionStatus(ctx, event.ID, domain.EventStatusProcessing, domain.EventStatusCompleted); err != nil {
			l.Error("failed to finalize delivered event", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		}
		d.hub.Publish(events.DeliveryEvent{
			EventID:       event.ID,
			DestinationID: dest.ID,
			Status:        events.DeliveryStatusDelivered,
			Attempt:       msg.Attempt(),
			Timestamp:     time.Now(),
		})
		l.Info("event delivered", slog.String("code", "DEL_OK"), slog.Int("status", *attempt.StatusCode), slog.Int("attempt", msg.Attempt()))
		_ = msg.Ack()
		return
	}

	if delErr.Fatal {
		d.finalizeFailed(ctx, msg, event, dest, delErr.Error())
		return
	}

	if !d.policy.ShouldRetry(msg.Attempt()) {
		d.finalizeFailed(ctx, msg, event, dest, "retry attempts exhausted: "+delErr.Error())
		return
	}

	delay := d.policy.Delay(msg.Attempt() - 1)
	l.Info("scheduling delivery retry",
		slog.String("code", "DEL_RETRY"),
		slog.Int("attempt", msg.Attempt()),
		slog.Duration("delay", delay),
		slog.Int("status", delErr.StatusCode),
	)
	d.hub.Publish(events.DeliveryEvent{
		EventID:       event.ID,
		DestinationID: dest.ID,
		Status:        events.DeliveryStatusRetrying,
		Message:       delErr.Error(),
		Attempt:       msg.Attempt(),
		Timestamp:     time.Now(),
	})
	_ = msg.RetryAfter(delay)
}

func (d *Dispatcher) finalizeFailed(ctx context.Context, msg queue.Message, event *domain.Event, dest *domain.Destination, reason string) {
	l := logging.FromContext(ctx)

	if _, err := d.events.TransitionStatus(ctx, event.ID, domain.EventStatusProcessing, domain.EventStatusFailed); err != nil {
		l.Error("failed to finalize failed event", slog.String("code", "DB_ERROR"), slog.Any("error", err))
	}
	d.hub.Publish(events.DeliveryEvent{
		EventID:       event.ID,
		DestinationID: dest.ID,
		Status:        events.DeliveryStatusFailed,
		Message:       reason,
		Attempt:       msg.Attempt(),
		Timestamp:     time.Now(),
	})
	l.Warn("event delivery failed permanently", slog.String("code", "DEL_FAILED"), slog.String("reason", reason))
	_ = msg.Ack()
}

// MarkExhausted is the terminal-failure backstop wired to the queue's
// failure listener. If a crash kept the in-line path from finalizing the
// event before its work item ran out of attempts, this forces FAILED.
func (d *Dispatcher) MarkExhausted(ctx context.Context, eventID string) {
	if err := d.events.MarkFailed(ctx, eventID); err != nil {
		logging.FromContext(ctx).Error("failed to mark exhausted event",
			slog.String("code", "DB_ERROR"), slog.Any("error", err))
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
