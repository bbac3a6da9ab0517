package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"schooltrack/internal/backend"
	"schooltrack/internal/config"
	"schooltrack/internal/httpapi"
	"schooltrack/internal/httpmiddleware"
	"schooltrack/internal/logging"
	"schooltrack/internal/metrics"
	"schooltrack/internal/queue"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Log, "api")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := backend.NewServices(b, cfg, logger, m)

	// An in-memory queue lives in this process, so its consumer must too.
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := queue.RunSyncLogConsumer(ctx, b.Queue, b.Store, logger.Named("queue")); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("sync log consumer failed", zap.Error(err))
			}
		}()
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisLimiter(b.Redis.Client, cfg.RateLimitPerMin)
	} else {
		ipl := httpmiddleware.NewIPLimiter(cfg.RateLimitPerMin)
		go pruneLimiter(ctx, ipl)
		limiter = ipl
	}

	health := make(map[string]httpapi.HealthFunc, len(b.Health))
	for name, check := range b.Health {
		health[name] = check
	}

	r := httpapi.NewRouter(httpapi.Deps{
		Assignments:    svc.Assignments,
		Sync:           svc.Sync,
		Trips:          svc.Trips,
		Roster:         svc.Roster,
		Auth:           svc.Auth,
		SyncLogs:       b.Store,
		Health:         health,
		Limiter:        limiter,
		Metrics:        m,
		Gatherer:       reg,
		Log:            logger.Named("http"),
		AllowedOrigins: cfg.AllowedOrigins,
		MaxBatch:       cfg.SyncMaxBatch,
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

func pruneLimiter(ctx context.Context, l *httpmiddleware.IPLimiter) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Prune(10 * time.Minute)
		}
	}
}
