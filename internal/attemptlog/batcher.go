// Package attemptlog buffers delivery-attempt records in memory and flushes
// them to the store in batches. Attempts are high-volume; losing a handful
// on a crash is the accepted price for not paying one durable write per
// delivery.
package attemptlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/store"
)

type Batcher struct {
	attempts store.DeliveryAttemptStore
	size     int
	interval time.Duration

	mu  sync.Mutex
	buf []*domain.DeliveryAttempt

	kick chan struct{}
}

func NewBatcher(attempts store.DeliveryAttemptStore, size int, interval time.Duration) *Batcher {
	return &Batcher{
		attempts: attempts,
		size:     size,
		interval: interval,
		buf:      make([]*domain.DeliveryAttempt, 0, size),
		kick:     make(chan struct{}, 1),
	}
}

// Record appends one attempt to the buffer. It never blocks a dispatch
// worker: a full buffer only nudges the flush loop.
func (b *Batcher) Record(attempt *domain.DeliveryAttempt) {
	b.mu.Lock()
	b.buf = append(b.buf, attempt)
	full := len(b.buf) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Run flushes on the interval and on size nudges until ctx is cancelled,
// then drains whatever is still buffered before returning.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// final drain uses a fresh context; the cancelled one would
			// abort the write we are trying to save
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			b.Flush(drainCtx)
			cancel()
			return
		case <-ticker.C:
			b.Flush(ctx)
		case <-b.kick:
			b.Flush(ctx)
		}
	}
}

// Flush swaps the buffer out atomically and writes it as one batch. Safe to
// call concurrently with Record. A failed write is logged and the batch
// dropped; delivery logging is best-effort and must never stall dispatch.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buf
	b.buf = make([]*domain.DeliveryAttempt, 0, b.size)
	b.mu.Unlock()

	if err := b.attempts.CreateBatch(ctx, batch); err != nil {
		slog.Error("failed to flush delivery attempts",
			slog.String("code", "LOG_FLUSH"),
			slog.Int("dropped", len(batch)),
			slog.Any("error", err),
		)
	}
}

// Pending reports how many attempts are buffered but not yet flushed.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
