package postgres

import (
	"context"
	"fmt"
	"time"
)

type ArchiveStore struct {
	db *DB
}

func NewArchiveStore(db *DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

func (s *ArchiveStore) DestinationsWithArchivable(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT destination_id
		FROM events
		WHERE status = 'COMPLETED' AND received_at < $1
	`
	rows, err := s.db.Pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query archivable destinations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan destination id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ArchiveCompleted pairs the counter increment and the row deletion in one
// transaction, scoped to a single destination so the lock footprint stays
// small and an interrupted sweep leaves other destinations untouched.
func (s *ArchiveStore) ArchiveCompleted(ctx context.Context, destinationID string, cutoff time.Time) (int64, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	deleteQuery := `
		DELETE FROM events
		WHERE destination_id = $1 AND status = 'COMPLETED' AND received_at < $2
	`
	tag, err := tx.Exec(ctx, deleteQuery, destinationID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete archived events: %w", err)
	}
	archived := tag.RowsAffected()
	if archived == 0 {
		return 0, tx.Commit(ctx)
	}

	counterQuery := `
		UPDATE destinations
		SET archived_success_count = archived_success_count + $1, updated_at = $2
		WHERE id = $3
	`
	if _, err := tx.Exec(ctx, counterQuery, archived, time.Now(), destinationID); err != nil {
		return 0, fmt.Errorf("increment archived counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit archive tx: %w", err)
	}
	return archived, nil
}
