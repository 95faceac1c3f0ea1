// Package archive compacts delivered history. Completed events older than
// the retention window collapse into a per-destination counter so the events
// table stays bounded while success totals survive.
package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/store"
)

type Archiver struct {
	store  store.ArchiveStore
	window time.Duration
	every  time.Duration

	now func() time.Time
}

func New(s store.ArchiveStore, window, every time.Duration) *Archiver {
	return &Archiver{
		store:  s,
		window: window,
		every:  every,
		now:    time.Now,
	}
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
func (a *Archiver) Run(ctx context.Context) {
	a.Sweep(ctx)

	ticker := time.NewTicker(a.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

// Sweep archives each destination's expired COMPLETED events and returns the
// total number of rows compacted. A failure on one destination is logged and
// skipped so the rest of the sweep still runs.
func (a *Archiver) Sweep(ctx context.Context) int64 {
	l := logging.FromContext(ctx)
	cutoff := a.now().Add(-a.window)

	ids, err := a.store.DestinationsWithArchivable(ctx, cutoff)
	if err != nil {
		l.Error("archive sweep aborted", slog.String("code", "ARCHIVE_FAIL"), slog.Any("error", err))
		return 0
	}

	var total int64
	for _, id := range ids {
		n, err := a.store.ArchiveCompleted(ctx, id, cutoff)
		if err != nil {
			l.Error("archive destination failed", slog.String("code", "ARCHIVE_FAIL"),
				slog.String("destination_id", id), slog.Any("error", err))
			continue
		}
		total += n
	}

	if total > 0 {
		l.Info("archive sweep done", slog.String("code", "ARCHIVE_DONE"),
			slog.Int("destinations", len(ids)), slog.Int64("archived", total))
	}
	return total
}
