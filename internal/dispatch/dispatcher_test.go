package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hookrelay/hookrelay/internal/attemptlog"
	"github.com/hookrelay/hookrelay/internal/counter"
	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/events"
	"github.com/hookrelay/hookrelay/internal/httpclient"
	"github.com/hookrelay/hookrelay/internal/retry"
	"github.com/hookrelay/hookrelay/internal/smoother"
	"github.com/hookrelay/hookrelay/internal/store"
)

type mockDestinationStore struct {
	mu           sync.Mutex
	destinations map[string]*domain.Destination
}

func (m *mockDestinationStore) Create(_ context.Context, d *domain.Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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
func (m *mockDestinationStore) SetPaused(context.Context, string, bool) error     { return nil }
func (m *mockDestinationStore) Delete(context.Context, string) error              { return nil }

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

func (m *mockEventStore) MarkFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.events[id]; ok && e.Status != domain.EventStatusCompleted && e.Status != domain.EventStatusFailed {
		e.Status = domain.EventStatusFailed
	}
	return nil
}

func (m *mockEventStore) ResumePaused(context.Context, string) ([]string, error)  { return nil, nil }
func (m *mockEventStore) RecoverFailed(context.Context, string) ([]string, error) { return nil, nil }

func (m *mockEventStore) status(id string) domain.EventStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[id].Status
}

type mockAttemptStore struct {
	mu       sync.Mutex
	attempts []*domain.DeliveryAttempt
}

func (s *mockAttemptStore) CreateBatch(_ context.Context, attempts []*domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempts...)
	return nil
}

func (s *mockAttemptStore) ListByEvent(context.Context, string) ([]*domain.DeliveryAttempt, error) {
	return nil, nil
}

func (s *mockAttemptStore) all() []*domain.DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.DeliveryAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

type fakeMessage struct {
	id      string
	attempt int

	acked      bool
	discarded  bool
	retried    bool
	retryDelay time.Duration
}

func (m *fakeMessage) EventID() string { return m.id }
func (m *fakeMessage) Attempt() int    { return m.attempt }
func (m *fakeMessage) Ack() error      { m.acked = true; return nil }
func (m *fakeMessage) Discard() error  { m.discarded = true; return nil }
func (m *fakeMessage) RetryAfter(d time.Duration) error {
	m.retried = true
	m.retryDelay = d
	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	events     *mockEventStore
	attempts   *mockAttemptStore
	batcher    *attemptlog.Batcher
	slept      *[]time.Duration
}

func newFixture(t *testing.T, targetURL string) *fixture {
	t.Helper()

	dests := &mockDestinationStore{destinations: map[string]*domain.Destination{
		"dest-1": {ID: "dest-1", URL: targetURL, Active: true, RateLimit: 100, Provider: domain.ProviderGeneric},
	}}
	eventStore := &mockEventStore{events: map[string]*domain.Event{
		"evt-1": {ID: "evt-1", DestinationID: "dest-1", Payload: []byte(`{"n":1}`), Status: domain.EventStatusPending},
	}}
	attempts := &mockAttemptStore{}
	batcher := attemptlog.NewBatcher(attempts, 100, time.Hour)

	policy := retry.Policy{MaxAttempts: 5, BaseDelay: time.Second, Factor: 2.0, MaxDelay: time.Hour}
	var slept []time.Duration

	d := New(
		eventStore,
		dests,
		nil, // consumer unused; tests drive Process directly
		httpclient.New(2*time.Second),
		smoother.New(counter.NewMemory(), time.Second),
		batcher,
		events.NewHub(),
		policy,
		4,
	)
	d.sleep = func(_ context.Context, dur time.Duration) { slept = append(slept, dur) }

	return &fixture{dispatcher: d, events: eventStore, attempts: attempts, batcher: batcher, slept: &slept}
}

func TestSuccessfulDeliveryCompletesEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	msg := &fakeMessage{id: "evt-1", attempt: 1}
	f.dispatcher.Process(context.Background(), msg)

	if !msg.acked {
		t.Error("expected work item acked")
	}
	if got := f.events.status("evt-1"); got != domain.EventStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got)
	}

	f.batcher.Flush(context.Background())
	attempts := f.attempts.all()
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt recorded, got %d", len(attempts))
	}
	if !attempts[0].Success {
		t.Error("attempt not marked successful")
	}
	if attempts[0].StatusCode == nil || *attempts[0].StatusCode != 200 {
		t.Error("attempt status code not recorded")
	}
}

func TestTransientFailureReschedulesWithBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	msg := &fakeMessage{id: "evt-1", attempt: 3}
	f.dispatcher.Process(context.Background(), msg)

	if msg.acked || msg.discarded {
		t.Error("transient failure must not finalize the work item")
	}
	if !msg.retried {
		t.Fatal("expected reschedule")
	}
	// third attempt: delay = base × 2^2
	if want := 4 * time.Second; msg.retryDelay != want {
		t.Errorf("retry delay = %v, want %v", msg.retryDelay, want)
	}
	if got := f.events.status("evt-1"); got == domain.EventStatusCompleted || got == domain.EventStatusFailed {
		t.Errorf("event finalized on transient failure: %s", got)
	}

	f.batcher.Flush(context.Background())
	attempts := f.attempts.all()
	if len(attempts) != 1 || attempts[0].Success {
		t.Error("expected one failed attempt recorded")
	}
}

func TestFatalFailureFinalizesEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	msg := &fakeMessage{id: "evt-1", attempt: 1}
	f.dispatcher.Process(context.Background(), msg)

	if !msg.acked {
		t.Error("fatal failure must ack the work item")
	}
	if msg.retried {
		t.Error("fatal failure must not reschedule")
	}
	if got := f.events.status("evt-1"); got != domain.EventStatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
}

func TestRateLimitedResponseIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	msg := &fakeMessage{id: "evt-1", attempt: 1}
	f.dispatcher.Process(context.Background(), msg)

	if !msg.retried {
		t.Error("429 must be retried")
	}
	if got := f.events.status("evt-1"); got == domain.EventStatusFailed {
		t.Error("429 must not finalize the event")
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1/unreachable")
	msg := &fakeMessage{id: "evt-1", attempt: 1}
	f.dispatcher.Process(context.Background(), msg)

	if !msg.retried {
		t.Error("network error must be retried")
	}

	f.batcher.Flush(context.Background())
	attempts := f.attempts.all()
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].StatusCode != nil {
		t.Error("network failure must record no status code")
	}
}

func TestExhaustedAttemptsFinalizeFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	msg := &fakeMessage{id: "evt-1", attempt: 5} // == MaxAttempts
	f.dispatcher.Process(context.Background(), msg)

	if msg.retried {
		t.Error("exhausted item must not be rescheduled")
	}
	if !msg.acked {
		t.Error("exhausted item must be acked")
	}
	if got := f.events.status("evt-1"); got != domain.EventStatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
}

func TestMissingEventDiscardsSilently(t *testing.T) {
	f := newFixture(t, "http://unused.invalid")
	msg := &fakeMessage{id: "evt-gone", attempt: 1}
	f.dispatcher.Process(context.Background(), msg)

	if !msg.discarded {
		t.Error("work item for a deleted event must be discarded")
	}
	if msg.retried {
		t.Error("deleted event must not be retried")
	}
}

func TestFinalizedEventAcksStaleWorkItem(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.events.events["evt-1"].Status = domain.EventStatusCompleted

	msg := &fakeMessage{id: "evt-1", attempt: 2}
	f.dispatcher.Process(context.Background(), msg)

	if !msg.acked {
		t.Error("stale work item must be acked")
	}
	if calls != 0 {
		t.Error("finalized event must not be delivered again")
	}
}

func TestSmootherDelaysBurst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)

	// rate limit 1: the second event in the same window waits one window
	f.dispatcher.destinations.(*mockDestinationStore).destinations["dest-1"].RateLimit = 1
	f.events.events["evt-2"] = &domain.Event{ID: "evt-2", DestinationID: "dest-1", Payload: []byte(`{}`), Status: domain.EventStatusPending}

	f.dispatcher.Process(context.Background(), &fakeMessage{id: "evt-1", attempt: 1})
	f.dispatcher.Process(context.Background(), &fakeMessage{id: "evt-2", attempt: 1})

	if len(*f.slept) != 1 {
		t.Fatalf("expected exactly one smoothing delay, got %v", *f.slept)
	}
	if (*f.slept)[0] != time.Second {
		t.Errorf("delay = %v, want one window", (*f.slept)[0])
	}
}

func TestMarkExhaustedBackstop(t *testing.T) {
	f := newFixture(t, "http://unused.invalid")
	f.events.events["evt-1"].Status = domain.EventStatusProcessing

	f.dispatcher.MarkExhausted(context.Background(), "evt-1")
	if got := f.events.status("evt-1"); got != domain.EventStatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}

	// never downgrades a completed event
	f.events.events["evt-1"].Status = domain.EventStatusCompleted
	f.dispatcher.MarkExhausted(context.Background(), "evt-1")
	if got := f.events.status("evt-1"); got != domain.EventStatusCompleted {
		t.Errorf("backstop downgraded COMPLETED to %s", got)
	}
}

func TestShutdownDoesNotAbortInFlightAttempt(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	msg := &fakeMessage{id: "evt-1", attempt: 1}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.dispatcher.Process(ctx, msg)
		close(done)
	}()

	// let the request reach the destination, then signal shutdown while the
	// response is still pending
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Process did not finish")
	}

	if !msg.acked {
		t.Error("expected work item acked")
	}
	if msg.retried {
		t.Error("in-flight attempt was rescheduled on shutdown")
	}
	if got := f.events.status("evt-1"); got != domain.EventStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got)
	}

	f.batcher.Flush(context.Background())
	attempts := f.attempts.all()
	if len(attempts) != 1 || !attempts[0].Success {
		t.Fatalf("expected one successful attempt, got %+v", attempts)
	}
}
