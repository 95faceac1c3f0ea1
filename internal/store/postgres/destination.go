package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/store"
)

type DestinationStore struct {
	db *DB
}

func NewDestinationStore(db *DB) *DestinationStore {
	return &DestinationStore{db: db}
}

func (s *DestinationStore) Create(ctx context.Context, d *domain.Destination) error {
	query := `
		INSERT INTO destinations (id, owner_id, url, provider, secret, active, paused, rate_limit, archived_success_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.Pool.Exec(ctx, query,
		d.ID,
		d.OwnerID,
		d.URL,
		d.Provider,
		d.Secret,
		d.Active,
		d.Paused,
		d.RateLimit,
		d.ArchivedSuccessCount,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	return nil
}

func (s *DestinationStore) GetByID(ctx context.Context, id string) (*domain.Destination, error) {
	query := `
		SELECT id, owner_id, url, provider, secret, active, paused, rate_limit, archived_success_count, created_at, updated_at
		FROM destinations
		WHERE id = $1
	`
	var d domain.Destination
	err := s.db.Pool.QueryRow(ctx, query, id).Scan(
		&d.ID,
		&d.OwnerID,
		&d.URL,
		&d.Provider,
		&d.Secret,
		&d.Active,
		&d.Paused,
		&d.RateLimit,
		&d.ArchivedSuccessCount,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("destination %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get destination: %w", err)
	}
	return &d, nil
}

func (s *DestinationStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Destination, error) {
	query := `
		SELECT id, owner_id, url, provider, secret, active, paused, rate_limit, archived_success_count, created_at, updated_at
		FROM destinations
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.Pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query destinations: %w", err)
	}
	defer rows.Close()

	var destinations []*domain.Destination
	for rows.Next() {
		var d domain.Destination
		err := rows.Scan(
			&d.ID,
			&d.OwnerID,
			&d.URL,
			&d.Provider,
			&d.Secret,
			&d.Active,
			&d.Paused,
			&d.RateLimit,
			&d.ArchivedSuccessCount,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		destinations = append(destinations, &d)
	}
	return destinations, rows.Err()
}

func (s *DestinationStore) Update(ctx context.Context, d *domain.Destination) error {
	query := `
		UPDATE destinations
		SET url = $1, provider = $2, secret = $3, active = $4, rate_limit = $5, updated_at = $6
		WHERE id = $7
	`
	tag, err := s.db.Pool.Exec(ctx, query,
		d.URL,
		d.Provider,
		d.Secret,
		d.Active,
		d.RateLimit,
		time.Now(),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("update destination: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("destination %s: %w", d.ID, store.ErrNotFound)
	}
	return nil
}

func (s *DestinationStore) SetPaused(ctx context.Context, id string, paused bool) error {
	query := `UPDATE destinations SET paused = $1, updated_at = $2 WHERE id = $3`
	tag, err := s.db.Pool.Exec(ctx, query, paused, time.Now(), id)
	if err != nil {
		return fmt.Errorf("set destination paused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("destination %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// Delete removes the destination; events and their delivery attempts go with
// it via ON DELETE CASCADE.
func (s *DestinationStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM destinations WHERE id = $1`
	tag, err := s.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete destination %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("destination %s: %w", id, store.ErrNotFound)
	}
	return nil
}
