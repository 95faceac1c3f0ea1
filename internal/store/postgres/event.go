package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/store"
)

type EventStore struct {
	db *DB
}

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Create(ctx context.Context, e *domain.Event) error {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	query := `
		INSERT INTO events (id, destination_id, payload, headers, status, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.Pool.Exec(ctx, query,
		e.ID,
		e.DestinationID,
		e.Payload,
		headers,
		e.Status,
		e.ReceivedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (s *EventStore) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	query := `
		SELECT id, destination_id, payload, headers, status, received_at, updated_at
		FROM events
		WHERE id = $1
	`
	var (
		e       domain.Event
		headers []byte
	)
	err := s.db.Pool.QueryRow(ctx, query, id).Scan(
		&e.ID,
		&e.DestinationID,
		&e.Payload,
		&headers,
		&e.Status,
		&e.ReceivedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	if err := json.Unmarshal(headers, &e.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return &e, nil
}

func (s *EventStore) ListByDestination(ctx context.Context, destinationID string, status domain.EventStatus, limit int) ([]*domain.Event, error) {
	query := `
		SELECT id, destination_id, payload, headers, status, received_at, updated_at
		FROM events
		WHERE destination_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY received_at DESC
		LIMIT $3
	`
	rows, err := s.db.Pool.Query(ctx, query, destinationID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			headers []byte
		)
		err := rows.Scan(&e.ID, &e.DestinationID, &e.Payload, &headers, &e.Status, &e.ReceivedAt, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(headers, &e.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *EventStore) TransitionStatus(ctx context.Context, id string, from, to domain.EventStatus) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	query := `
		UPDATE events
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := s.db.Pool.Exec(ctx, query, to, time.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("transition event status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *EventStore) MarkFailed(ctx context.Context, id string) error {
	query := `
		UPDATE events
		SET status = 'FAILED', updated_at = $1
		WHERE id = $2 AND status NOT IN ('COMPLETED', 'FAILED')
	`
	_, err := s.db.Pool.Exec(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}

// ResumePaused scopes the update to PAUSED rows so a repeated resume finds
// nothing left and enqueues nothing twice.
func (s *EventStore) ResumePaused(ctx context.Context, destinationID string) ([]string, error) {
	query := `
		UPDATE events
		SET status = 'PENDING', updated_at = $1
		WHERE destination_id = $2 AND status = 'PAUSED'
		RETURNING id
	`
	return s.collectIDs(ctx, query, time.Now(), destinationID)
}

func (s *EventStore) RecoverFailed(ctx context.Context, destinationID string) ([]string, error) {
	query := `
		UPDATE events
		SET status = 'PENDING', updated_at = $1
		WHERE destination_id = $2 AND status = 'FAILED'
		RETURNING id
	`
	return s.collectIDs(ctx, query, time.Now(), destinationID)
}

func (s *EventStore) collectIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
