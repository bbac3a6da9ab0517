// Package httpapi exposes the services over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"schooltrack/internal/assignment"
	"schooltrack/internal/auth"
	"schooltrack/internal/httpmiddleware"
	"schooltrack/internal/ingest"
	"schooltrack/internal/metrics"
	"schooltrack/internal/model"
	"schooltrack/internal/roster"
	"schooltrack/internal/trip"
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) bool

// SyncLogReader lists recorded sync batches.
type SyncLogReader interface {
	SyncLogs(ctx context.Context, deviceID string) ([]model.SyncLog, error)
}

// Deps groups everything the router needs. Limiter, Gatherer and Health are
// optional.
type Deps struct {
	Assignments *assignment.Service
	Sync        *ingest.Engine
	Trips       *trip.Service
	Roster      *roster.Service
	Auth        *auth.Service
	SyncLogs    SyncLogReader

	Health   map[string]HealthFunc
	Limiter  httpmiddleware.Limiter
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      *zap.Logger

	AllowedOrigins []string
	// MaxBatch caps the scans accepted per sync request; it never exceeds
	// ingest.MaxBatchSize.
	MaxBatch int
}

type handler struct {
	Deps
}

// NewRouter wires middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.MaxBatch <= 0 || d.MaxBatch > ingest.MaxBatchSize {
		d.MaxBatch = ingest.MaxBatchSize
	}
	registerValidators()
	h := &handler{Deps: d}

	r := gin.New()
	r.Use(recovery(d.Log))
	r.Use(requestLogger(d.Log, d.Metrics, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(d.AllowedOrigins)))
	r.Use(securityHeaders())
	if d.Limiter != nil {
		r.Use(httpmiddleware.GinMiddleware(d.Limiter, d.Log))
	}

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/healthz", h.healthz)

	r.POST("/api/v1/devices/register", h.registerDevice)
	r.POST("/api/v1/devices/refresh", h.refreshDevice)

	device := r.Group("/api/sync", auth.DeviceAuth(d.Auth))
	device.POST("/attendances", h.syncAttendances)

	v1 := r.Group("/api/v1")
	v1.GET("/sync-logs", h.listSyncLogs)

	v1.POST("/tokens", h.registerToken)
	v1.GET("/tokens", h.listTokens)
	v1.POST("/tokens/assign", h.assignToken)
	v1.POST("/tokens/reassign", h.reassignToken)

	v1.POST("/trips", h.createTrip)
	v1.GET("/trips", h.listTrips)
	v1.GET("/trips/:id", h.getTrip)
	v1.PUT("/trips/:id", h.updateTrip)
	v1.DELETE("/trips/:id", h.archiveTrip)
	v1.GET("/trips/:id/assignments", h.tripAssignments)
	v1.GET("/trips/:id/assignments/export", h.exportAssignments)
	v1.GET("/trips/:id/students", h.tripStudents)
	v1.POST("/trips/:id/release-tokens", h.releaseTokens)
	v1.GET("/trips/:id/offline-data", h.offlineData)
	v1.POST("/trips/:id/checkpoints", h.createCheckpoint)
	v1.GET("/trips/:id/checkpoints", h.listCheckpoints)
	v1.POST("/checkpoints/:id/close", h.closeCheckpoint)

	v1.POST("/students", h.createStudent)
	v1.GET("/students", h.listStudents)
	v1.GET("/students/:id", h.getStudent)
	v1.POST("/classes", h.createClass)
	v1.GET("/classes", h.listClasses)
	v1.POST("/classes/:id/students", h.enrollStudents)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (h *handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check != nil && check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
