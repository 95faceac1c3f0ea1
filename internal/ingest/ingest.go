// Package ingest accepts one inbound webhook event: origin verification,
// durable persistence, then scheduling, unless the destination is paused
// and the event buffers instead.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hookrelay/hookrelay/internal/counter"
	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/queue"
	"github.com/hookrelay/hookrelay/internal/store"
	"github.com/hookrelay/hookrelay/internal/verify"
)

type Pipeline struct {
	destinations store.DestinationStore
	events       store.EventStore
	enqueuer     queue.Enqueuer
	cache        counter.Store

	signatureWindow time.Duration
	cacheTTL        time.Duration
}

func NewPipeline(
	destinations store.DestinationStore,
	events store.EventStore,
	enqueuer queue.Enqueuer,
	cache counter.Store,
	signatureWindow time.Duration,
	cacheTTL time.Duration,
) *Pipeline {
	return &Pipeline{
		destinations:    destinations,
		events:          events,
		enqueuer:        enqueuer,
		cache:           cache,
		signatureWindow: signatureWindow,
		cacheTTL:        cacheTTL,
	}
}

// destSnapshot is the cached slice of a destination ingestion cares about,
// so a burst of inbound events does not hit the durable store per request.
type destSnapshot struct {
	Active               bool            `json:"active"`
	Paused               bool            `json:"paused"`
	Provider             domain.Provider `json:"provider"`
	Secret               string          `json:"secret"`
	RequiresVerification bool            `json:"requires_verification"`
}

// Ingest verifies, persists, and schedules one inbound event, returning the
// new event ID. rawBody must be the exact bytes received on the wire.
func (p *Pipeline) Ingest(ctx context.Context, destinationID string, payload json.RawMessage, headers map[string]string, rawBody []byte) (string, error) {
	ctx = logging.WithDestination(ctx, destinationID)

	snap, err := p.destination(ctx, destinationID)
	if err != nil {
		return "", err
	}
	if !snap.Active {
		return "", fmt.Errorf("destination %s inactive: %w", destinationID, store.ErrNotFound)
	}

	if snap.RequiresVerification {
		verifier := verify.ForProvider(snap.Provider, p.signatureWindow)
		if !verifier.Verify(headers, snap.Secret, rawBody) {
			// rejected events are never persisted; resubmitting a tampered
			// payload buys nothing
			logging.FromContext(ctx).Warn("rejected event with invalid signature",
				slog.String("code", "SIG_REJECT"),
				slog.String("provider", string(snap.Provider)),
			)
			return "", domain.ErrInvalidSignature
		}
	}

	status := domain.EventStatusPending
	if snap.Paused {
		status = domain.EventStatusPaused
	}

	event := &domain.Event{
		ID:            uuid.New().String(),
		DestinationID: destinationID,
		Payload:       payload,
		Headers:       headers,
		Status:        status,
		ReceivedAt:    time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := p.events.Create(ctx, event); err != nil {
		return "", fmt.Errorf("persist event: %w", err)
	}

	// a paused destination buffers: the event sits in the store with no
	// work item until resume enqueues it
	if !snap.Paused {
		if err := p.enqueuer.Enqueue(ctx, event.ID); err != nil {
			return "", fmt.Errorf("schedule event %s: %w", event.ID, err)
		}
	}

	logging.FromContext(logging.WithEventID(ctx, event.ID)).Info("event ingested",
		slog.String("code", "ING_ACCEPT"),
		slog.String("status", string(status)),
	)
	return event.ID, nil
}

func (p *Pipeline) destination(ctx context.Context, id string) (*destSnapshot, error) {
	key := "dest." + id
	if raw, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		var snap destSnapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return &snap, nil
		}
	}

	d, err := p.destinations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := &destSnapshot{
		Active:               d.Active,
		Paused:               d.Paused,
		Provider:             d.Provider,
		Secret:               d.Secret,
		RequiresVerification: d.RequiresVerification(),
	}
	if raw, err := json.Marshal(snap); err == nil {
		if err := p.cache.Set(ctx, key, raw, p.cacheTTL); err != nil {
			logging.FromContext(ctx).Warn("failed to cache destination snapshot", slog.Any("error", err))
		}
	}
	return snap, nil
}

// InvalidateCache drops the cached snapshot; callers that mutate a
// destination use it so pause and edit take effect before the TTL runs out.
func (p *Pipeline) InvalidateCache(ctx context.Context, destinationID string) {
	if err := p.cache.Delete(ctx, "dest."+destinationID); err != nil {
		logging.FromContext(ctx).Warn("failed to invalidate destination cache", slog.Any("error", err))
	}
}
