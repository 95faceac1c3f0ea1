package domain

import (
	"errors"
	"testing"
)

func TestStatusTransitionTable(t *testing.T) {
	tests := []struct {
		from    EventStatus
		to      EventStatus
		allowed bool
	}{
		{EventStatusPending, EventStatusProcessing, true},
		{EventStatusProcessing, EventStatusCompleted, true},
		{EventStatusProcessing, EventStatusFailed, true},
		{EventStatusPaused, EventStatusPending, true},
		{EventStatusFailed, EventStatusPending, true}, // explicit replay only

		{EventStatusPending, EventStatusCompleted, false},
		{EventStatusPending, EventStatusPaused, false},
		{EventStatusCompleted, EventStatusPending, false},
		{EventStatusCompleted, EventStatusFailed, false},
		{EventStatusPaused, EventStatusProcessing, false},
		{EventStatusFailed, EventStatusCompleted, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestEventTransitionRejectsInvalid(t *testing.T) {
	e := &Event{ID: "evt-1", Status: EventStatusCompleted}

	err := e.Transition(EventStatusPending)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if e.Status != EventStatusCompleted {
		t.Errorf("status mutated on rejected transition: %s", e.Status)
	}
}

func TestEventTransitionApplies(t *testing.T) {
	e := &Event{ID: "evt-1", Status: EventStatusPending}

	if err := e.Transition(EventStatusProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Status != EventStatusProcessing {
		t.Errorf("expected PROCESSING, got %s", e.Status)
	}
}

func TestRequiresVerification(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		secret   string
		want     bool
	}{
		{"stripe with secret", ProviderStripe, "whsec_abc", true},
		{"stripe without secret", ProviderStripe, "", false},
		{"generic with secret", ProviderGeneric, "whsec_abc", false},
		{"generic without secret", ProviderGeneric, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Destination{Provider: tt.provider, Secret: tt.secret}
			if got := d.RequiresVerification(); got != tt.want {
				t.Errorf("RequiresVerification() = %v, want %v", got, tt.want)
			}
		})
	}
}
