package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hookrelay/hookrelay/internal/archive"
	"github.com/hookrelay/hookrelay/internal/attemptlog"
	"github.com/hookrelay/hookrelay/internal/config"
	"github.com/hookrelay/hookrelay/internal/counter"
	"github.com/hookrelay/hookrelay/internal/dispatch"
	"github.com/hookrelay/hookrelay/internal/events"
	"github.com/hookrelay/hookrelay/internal/httpclient"
	"github.com/hookrelay/hookrelay/internal/ingest"
	"github.com/hookrelay/hookrelay/internal/lifecycle"
	"github.com/hookrelay/hookrelay/internal/logging"
	"github.com/hookrelay/hookrelay/internal/queue"
	"github.com/hookrelay/hookrelay/internal/retry"
	"github.com/hookrelay/hookrelay/internal/safeurl"
	"github.com/hookrelay/hookrelay/internal/server"
	"github.com/hookrelay/hookrelay/internal/smoother"
	"github.com/hookrelay/hookrelay/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Init(cfg.LogFile)
	logger := logging.FromContext(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// AckWait must outlast a full delivery attempt: the HTTP timeout plus
	// whatever smoothing delay the worker slept through.
	ackWait := cfg.Delivery.Timeout + cfg.Smoother.Window + 30*time.Second
	q, err := queue.Connect(ctx, cfg.NATSURL, cfg.Delivery.MaxAttempts, ackWait)
	if err != nil {
		logger.Error("connect NATS", slog.Any("error", err))
		os.Exit(1)
	}
	defer q.Close()

	destStore := postgres.NewDestinationStore(db)
	eventStore := postgres.NewEventStore(db)
	attemptStore := postgres.NewDeliveryAttemptStore(db)
	archiveStore := postgres.NewArchiveStore(db)

	smoothCounters, err := counter.NewNATSKV(ctx, q.JetStream(), "hookrelay-smoother", 2*cfg.Smoother.Window)
	if err != nil {
		logger.Error("provision smoother bucket", slog.Any("error", err))
		os.Exit(1)
	}
	destCache, err := counter.NewNATSKV(ctx, q.JetStream(), "hookrelay-destcache", cfg.Delivery.PauseCacheTTL)
	if err != nil {
		logger.Error("provision destination cache bucket", slog.Any("error", err))
		os.Exit(1)
	}

	sm := smoother.New(smoothCounters, cfg.Smoother.Window)
	batcher := attemptlog.NewBatcher(attemptStore, cfg.Batcher.Size, cfg.Batcher.Interval)
	hub := events.NewHub()

	pipeline := ingest.NewPipeline(destStore, eventStore, q, destCache,
		cfg.Delivery.SignatureWindow, cfg.Delivery.PauseCacheTTL)
	lc := lifecycle.NewController(destStore, eventStore, q, func(ctx context.Context, id string) {
		pipeline.InvalidateCache(ctx, id)
	})

	policy := retry.Policy{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BaseDelay:   cfg.Delivery.BackoffBase,
		Factor:      cfg.Delivery.BackoffFactor,
		MaxDelay:    cfg.Delivery.BackoffMax,
	}
	dispatcher := dispatch.New(eventStore, destStore, q,
		httpclient.New(cfg.Delivery.Timeout), sm, batcher, hub, policy, cfg.Delivery.Workers)

	// the advisory listener is the backstop for events whose final redelivery
	// the dispatcher never saw
	if err := q.OnExhausted(ctx, dispatcher.MarkExhausted); err != nil {
		logger.Error("subscribe exhaustion advisories", slog.Any("error", err))
		os.Exit(1)
	}

	archiver := archive.New(archiveStore, cfg.Retention.Window, cfg.Retention.Every)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		batcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("dispatcher stopped", slog.Any("error", err))
		}
	}()
	go func() {
		defer wg.Done()
		archiver.Run(ctx)
	}()

	srv := server.New(pipeline, lc, destStore, eventStore, attemptStore,
		&safeurl.Checker{}, hub, cfg.AdminAPIKey)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", slog.Any("error", err))
		}
	}()

	if err := srv.Listen(cfg.ListenAddr); err != nil {
		logger.Error("http server", slog.Any("error", err))
	}

	// listener is down; drain the workers and flush pending attempt rows
	stop()
	wg.Wait()
	logger.Info("shutdown complete")
}
