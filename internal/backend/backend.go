// Package backend opens the storage and queue selected by configuration and
// builds the services on top of them.
package backend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"schooltrack/internal/assignment"
	"schooltrack/internal/auth"
	"schooltrack/internal/config"
	"schooltrack/internal/ingest"
	"schooltrack/internal/metrics"
	"schooltrack/internal/model"
	"schooltrack/internal/queue"
	"schooltrack/internal/roster"
	"schooltrack/internal/store"
	"schooltrack/internal/store/memstore"
	"schooltrack/internal/trip"
)

// Store is implemented by both store.Repository and memstore.Store.
type Store interface {
	assignment.Repository
	trip.Repository
	ingest.Repository
	roster.Repository
	auth.Repository
	queue.SyncLogSink
	SyncLogs(ctx context.Context, deviceID string) ([]model.SyncLog, error)
}

var (
	_ Store = (*store.Repository)(nil)
	_ Store = (*memstore.Store)(nil)
)

// Backend holds opened infrastructure. Close releases it.
type Backend struct {
	Store Store
	Queue queue.Queue
	DB    *store.DB
	Redis *store.Redis

	// Health maps dependency names to their checks.
	Health map[string]func(context.Context) bool
}

// Open connects to the configured store and queue. Postgres is migrated when
// migrate is true.
func Open(ctx context.Context, cfg config.App, migrate bool, log *zap.Logger) (*Backend, error) {
	b := &Backend{Health: make(map[string]func(context.Context) bool)}

	switch cfg.StoreBackend {
	case "memory":
		mem := memstore.New()
		b.Store = mem
		b.Health["store"] = mem.Healthy
		log.Warn("using in-memory store, data is lost on restart")
	case "postgres", "":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if migrate {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		b.DB = db
		b.Store = store.NewRepository(db.Client)
		b.Health["db"] = db.Healthy
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		b.Redis = store.NewRedis(cfg.RedisAddr)
		b.Health["redis"] = b.Redis.Healthy
	}
	switch cfg.QueueBackend {
	case "memory":
		b.Queue = queue.NewInMemory(256)
	case "redis", "":
		b.Queue = queue.NewRedisQueue(b.Redis.Client, "")
	default:
		_ = b.Close()
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	return b, nil
}

// Close releases the database and redis connections.
func (b *Backend) Close() error {
	var errs []error
	if b.DB != nil {
		errs = append(errs, b.DB.Close())
	}
	if b.Redis != nil {
		errs = append(errs, b.Redis.Close())
	}
	return errors.Join(errs...)
}

// Services are the domain services built over a Backend.
type Services struct {
	Assignments *assignment.Service
	Trips       *trip.Service
	Roster      *roster.Service
	Sync        *ingest.Engine
	Auth        *auth.Service
}

// NewServices wires the services. m may be nil.
func NewServices(b *Backend, cfg config.App, log *zap.Logger, m *metrics.Metrics) *Services {
	assignments := assignment.NewService(b.Store, log.Named("assignment"), m)
	return &Services{
		Assignments: assignments,
		Trips:       trip.NewService(b.Store, assignments, log.Named("trip")),
		Roster:      roster.NewService(b.Store),
		Sync:        ingest.NewEngine(b.Store, queue.NewSyncNotifier(b.Queue), log.Named("sync"), m),
		Auth: auth.NewService(b.Store, auth.Options{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.JWTSigningKey,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		}, log.Named("auth")),
	}
}
