package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

// New opens a connection pool and pings it, retrying the ping with
// exponential backoff so the service survives the database coming up after
// it does.
func New(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func (db *DB) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS destinations (
			id                     TEXT PRIMARY KEY,
			owner_id               TEXT NOT NULL,
			url                    TEXT NOT NULL,
			provider               TEXT NOT NULL DEFAULT 'generic',
			secret                 TEXT NOT NULL DEFAULT '',
			active                 BOOLEAN NOT NULL DEFAULT TRUE,
			paused                 BOOLEAN NOT NULL DEFAULT FALSE,
			rate_limit             INT NOT NULL DEFAULT 10,
			archived_success_count BIGINT NOT NULL DEFAULT 0,
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS events (
			id             TEXT PRIMARY KEY,
			destination_id TEXT NOT NULL REFERENCES destinations(id) ON DELETE CASCADE,
			payload        JSONB NOT NULL,
			headers        JSONB NOT NULL DEFAULT '{}',
			status         TEXT NOT NULL CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'PAUSED')),
			received_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS delivery_attempts (
			id               TEXT PRIMARY KEY,
			event_id         TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			status_code      INT,
			response_summary TEXT NOT NULL DEFAULT '',
			success          BOOLEAN NOT NULL,
			attempted_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_destinations_owner_id ON destinations(owner_id);
		CREATE INDEX IF NOT EXISTS idx_events_destination_id ON events(destination_id);
		CREATE INDEX IF NOT EXISTS idx_events_destination_status ON events(destination_id, status);
		CREATE INDEX IF NOT EXISTS idx_events_status_received_at ON events(status, received_at);
		CREATE INDEX IF NOT EXISTS idx_delivery_attempts_event_id ON delivery_attempts(event_id);
	`

	_, err := db.Pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
