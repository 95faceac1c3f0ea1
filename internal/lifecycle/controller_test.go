package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/store"
)

type mockDestinationStore struct {
	mu           sync.Mutex
	destinations map[string]*domain.Destination
}

func (m *mockDestinationStore) Create(_ context.Context, d *domain.Destination) error {
	m.destinations[d.ID] = d
	return nil
}

func (m *mockDestinationStore) GetByID(_ context.Context, id string) (*domain.Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.destinations[id]
	if !ok {
		return nil, fmt.Errorf("destination %s: %w", id, store.ErrNotFound)
	}
	return d, nil
}

func (m *mockDestinationStore) ListByOwner(context.Context, string) ([]*domain.Destination, error) {
	return nil, nil
}
func (m *mockDestinationStore) Update(context.Context, *domain.Destination) error { return nil }

func (m *mockDestinationStore) SetPaused(_ context.Context, id string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.destinations[id]
	if !ok {
		return fmt.Errorf("destination %s: %w", id, store.ErrNotFound)
	}
	d.Paused = paused
	return nil
}

func (m *mockDestinationStore) Delete(context.Context, string) error { return nil }

type mockEventStore struct {
	mu     sync.Mutex
	events map[string]*domain.Event
}

func (m *mockEventStore) Create(_ context.Context, e *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
	return nil
}

func (m *mockEventStore) GetByID(_ context.Context, id string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, store.ErrNotFound)
	}
	snapshot := *e
	return &snapshot, nil
}

func (m *mockEventStore) ListByDestination(context.Context, string, domain.EventStatus, int) ([]*domain.Event, error) {
	return nil, nil
}

func (m *mockEventStore) TransitionStatus(_ context.Context, id string, from, to domain.EventStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	return true, nil
}

func (m *mockEventStore) MarkFailed(context.Context, string) error { return nil }

func (m *mockEventStore) ResumePaused(_ context.Context, destinationID string) ([]string, error) {
	return m.flip(destinationID, domain.EventStatusPaused)
}

func (m *mockEventStore) RecoverFailed(_ context.Context, destinationID string) ([]string, error) {
	return m.flip(destinationID, domain.EventStatusFailed)
}

func (m *mockEventStore) flip(destinationID string, from domain.EventStatus) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, e := range m.events {
		if e.DestinationID == destinationID && e.Status == from {
			e.Status = domain.EventStatusPending
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

func (m *mockEventStore) statuses(destinationID string) map[domain.EventStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.EventStatus]int)
	for _, e := range m.events {
		if e.DestinationID == destinationID {
			out[e.Status]++
		}
	}
	return out
}

type mockEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (m *mockEnqueuer) Enqueue(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, eventID)
	return nil
}

func (m *mockEnqueuer) EnqueueBulk(ctx context.Context, eventIDs []string) error {
	for _, id := range eventIDs {
		m.Enqueue(ctx, id)
	}
	return nil
}

func (m *mockEnqueuer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

func newFixture() (*Controller, *mockDestinationStore, *mockEventStore, *mockEnqueuer, *int) {
	dests := &mockDestinationStore{destinations: map[string]*domain.Destination{
		"dest-1": {ID: "dest-1", Active: true},
	}}
	events := &mockEventStore{events: map[string]*domain.Event{
		"evt-p1": {ID: "evt-p1", DestinationID: "dest-1", Status: domain.EventStatusPaused},
		"evt-p2": {ID: "evt-p2", DestinationID: "dest-1", Status: domain.EventStatusPaused},
		"evt-p3": {ID: "evt-p3", DestinationID: "dest-1", Status: domain.EventStatusPaused},
		"evt-ok": {ID: "evt-ok", DestinationID: "dest-1", Status: domain.EventStatusCompleted},
		"evt-ng": {ID: "evt-ng", DestinationID: "dest-1", Status: domain.EventStatusFailed},
	}}
	enq := &mockEnqueuer{}
	var invalidations int
	c := NewController(dests, events, enq, func(context.Context, string) { invalidations++ })
	return c, dests, events, enq, &invalidations
}

func TestPauseOnlyFlipsFlag(t *testing.T) {
	c, dests, events, enq, invalidations := newFixture()

	flushed, err := c.SetPaused(context.Background(), "dest-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flushed != 0 {
		t.Errorf("pause flushed %d events", flushed)
	}
	if !dests.destinations["dest-1"].Paused {
		t.Error("pause flag not set")
	}
	if enq.count() != 0 {
		t.Error("pause must not touch the queue")
	}
	if got := events.statuses("dest-1")[domain.EventStatusPaused]; got != 3 {
		t.Errorf("pause mutated buffered events, %d left PAUSED", got)
	}
	if *invalidations != 1 {
		t.Errorf("expected 1 cache invalidation, got %d", *invalidations)
	}
}

func TestResumeFlushesExactlyPausedSet(t *testing.T) {
	c, _, events, enq, _ := newFixture()

	flushed, err := c.SetPaused(context.Background(), "dest-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flushed != 3 {
		t.Errorf("flushed = %d, want 3", flushed)
	}
	if enq.count() != 3 {
		t.Errorf("enqueued = %d, want 3", enq.count())
	}

	st := events.statuses("dest-1")
	if st[domain.EventStatusPaused] != 0 {
		t.Errorf("%d events left PAUSED", st[domain.EventStatusPaused])
	}
	if st[domain.EventStatusPending] != 3 {
		t.Errorf("%d events PENDING, want 3", st[domain.EventStatusPending])
	}
	// COMPLETED and FAILED rows untouched
	if st[domain.EventStatusCompleted] != 1 || st[domain.EventStatusFailed] != 1 {
		t.Error("resume touched terminal events")
	}
}

func TestResumeIsIdempotent(t *testing.T) {
	c, _, _, enq, _ := newFixture()

	c.SetPaused(context.Background(), "dest-1", false)
	flushed, err := c.SetPaused(context.Background(), "dest-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flushed != 0 {
		t.Errorf("second resume flushed %d events", flushed)
	}
	if enq.count() != 3 {
		t.Errorf("second resume enqueued extras: %d total", enq.count())
	}
}

func TestSetPausedUnknownDestination(t *testing.T) {
	c, _, _, _, _ := newFixture()
	_, err := c.SetPaused(context.Background(), "nope", true)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReplayFailedEvent(t *testing.T) {
	c, _, events, enq, _ := newFixture()

	if err := c.Replay(context.Background(), "evt-ng"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events.events["evt-ng"].Status != domain.EventStatusPending {
		t.Errorf("status = %s, want PENDING", events.events["evt-ng"].Status)
	}
	if enq.count() != 1 {
		t.Errorf("enqueued = %d, want 1", enq.count())
	}
}

func TestReplayRejectsNonFailedEvent(t *testing.T) {
	c, _, _, enq, _ := newFixture()

	err := c.Replay(context.Background(), "evt-ok")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if enq.count() != 0 {
		t.Error("rejected replay must not enqueue")
	}
}

func TestReplayUnknownEvent(t *testing.T) {
	c, _, _, _, _ := newFixture()
	if err := c.Replay(context.Background(), "evt-ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecoverBulk(t *testing.T) {
	c, _, events, enq, _ := newFixture()
	events.events["evt-ng2"] = &domain.Event{ID: "evt-ng2", DestinationID: "dest-1", Status: domain.EventStatusFailed}

	recovered, err := c.Recover(context.Background(), "dest-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recovered != 2 {
		t.Errorf("recovered = %d, want 2", recovered)
	}
	if enq.count() != 2 {
		t.Errorf("enqueued = %d, want 2", enq.count())
	}

	// second recovery finds nothing
	recovered, err = c.Recover(context.Background(), "dest-1")
	if err != nil || recovered != 0 {
		t.Errorf("second recover = %d, %v; want 0, nil", recovered, err)
	}
}

func TestRecoverUnknownDestination(t *testing.T) {
	c, _, _, _, _ := newFixture()
	if _, err := c.Recover(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
