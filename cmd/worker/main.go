package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"schooltrack/internal/backend"
	"schooltrack/internal/config"
	"schooltrack/internal/logging"
	"schooltrack/internal/queue"
	"schooltrack/internal/trip"
)

// Worker records sync batches published by the API and releases the tokens
// of trips that were concluded without their release going through.
func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Log, "worker")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Warn("QUEUE_BACKEND=memory: events published by the API are not visible here, only the sweep runs")
	}

	b, err := backend.Open(ctx, cfg, false, logger)
	if err != nil {
		logger.Fatal("backend init failed", zap.Error(err))
	}
	defer func() { _ = b.Close() }()

	svc := backend.NewServices(b, cfg, logger, nil)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.QueueBackend != "memory" {
		g.Go(func() error {
			return queue.RunSyncLogConsumer(gctx, b.Queue, b.Store, logger.Named("queue"))
		})
	}
	g.Go(func() error {
		return sweep(gctx, svc.Trips, cfg.ReleaseSweepInterval, logger.Named("sweep"))
	})

	logger.Info("worker started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}

// sweep releases assignments of concluded trips on every tick.
func sweep(ctx context.Context, trips *trip.Service, every time.Duration, log *zap.Logger) error {
	if every <= 0 {
		every = 10 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		n, err := trips.SweepConcluded(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("release sweep failed", zap.Error(err))
		case n > 0:
			log.Info("release sweep done", zap.Int("released", n))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
