package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hookrelay/hookrelay/internal/domain"
)

type DeliveryAttemptStore struct {
	db *DB
}

func NewDeliveryAttemptStore(db *DB) *DeliveryAttemptStore {
	return &DeliveryAttemptStore{db: db}
}

// CreateBatch bulk-inserts buffered attempts in one round trip.
func (s *DeliveryAttemptStore) CreateBatch(ctx context.Context, attempts []*domain.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []any{a.ID, a.EventID, a.StatusCode, a.ResponseSummary, a.Success, a.AttemptedAt})
	}

	_, err := s.db.Pool.CopyFrom(ctx,
		pgx.Identifier{"delivery_attempts"},
		[]string{"id", "event_id", "status_code", "response_summary", "success", "attempted_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy delivery attempts: %w", err)
	}
	return nil
}

func (s *DeliveryAttemptStore) ListByEvent(ctx context.Context, eventID string) ([]*domain.DeliveryAttempt, error) {
	query := `
		SELECT id, event_id, status_code, response_summary, success, attempted_at
		FROM delivery_attempts
		WHERE event_id = $1
		ORDER BY attempted_at ASC
	`
	rows, err := s.db.Pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		err := rows.Scan(&a.ID, &a.EventID, &a.StatusCode, &a.ResponseSummary, &a.Success, &a.AttemptedAt)
		if err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
