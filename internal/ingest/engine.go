package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schooltrack/internal/metrics"
	"schooltrack/internal/model"
)

// MaxBatchSize is the largest batch a device may submit in one request.
const MaxBatchSize = 500

// ErrBatchTooLarge is returned for batches above MaxBatchSize.
var ErrBatchTooLarge = fmt.Errorf("batch too large: maximum %d scans per request", MaxBatchSize)

// ErrUnknownReference is returned when a scan names a trip, checkpoint,
// student or assignment that does not exist. Resubmitting the same batch
// cannot succeed, so it is not a RetryableError.
var ErrUnknownReference = errors.New("sync batch references an unknown row")

// Scan is one attendance scan produced offline by a mobile client.
type Scan struct {
	ClientUUID    uuid.UUID
	TripID        uuid.UUID
	CheckpointID  uuid.UUID
	StudentID     uuid.UUID
	AssignmentID  *int64
	ScannedAt     time.Time
	ScanMethod    model.ScanMethod
	ScanSequence  int
	IsManual      bool
	Justification *string
	Comment       *string
}

// Result reports how a batch was classified. Accepted and Duplicate follow
// input order.
type Result struct {
	Accepted      []string `json:"accepted"`
	Duplicate     []string `json:"duplicate"`
	TotalReceived int      `json:"total_received"`
	TotalInserted int      `json:"total_inserted"`
}

// Repository is the storage collaborator of the engine.
type Repository interface {
	ClientUUIDExists(ctx context.Context, id uuid.UUID) (bool, error)
	// InsertBatch persists all rows in one transaction or none of them.
	InsertBatch(ctx context.Context, rows []model.Attendance) error
}

// Notifier is told about every committed batch.
type Notifier interface {
	SyncCompleted(ctx context.Context, log model.SyncLog) error
}

// RetryableError wraps a storage failure. Nothing from the batch was
// persisted and the whole batch may be resubmitted.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "sync batch not persisted, retry: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err (or anything it wraps) is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Engine ingests sync batches idempotently, keyed on the client UUID.
type Engine struct {
	repo     Repository
	notifier Notifier
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() uuid.UUID
}

// NewEngine creates an engine. notifier may be nil.
func NewEngine(repo Repository, notifier Notifier, log *zap.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		repo:     repo,
		notifier: notifier,
		log:      log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.New,
	}
}

// SyncBatch classifies each scan in order as accepted or duplicate and
// commits the accepted ones together. Scans already seen earlier in the same
// batch are duplicates without a storage lookup, since staged rows are not
// visible to storage before the commit.
func (e *Engine) SyncBatch(ctx context.Context, scans []Scan, deviceID string) (Result, error) {
	if len(scans) > MaxBatchSize {
		return Result{}, ErrBatchTooLarge
	}
	start := time.Now()

	res := Result{
		Accepted:      make([]string, 0, len(scans)),
		Duplicate:     []string{},
		TotalReceived: len(scans),
	}
	seen := make(map[uuid.UUID]struct{}, len(scans))
	staged := make([]model.Attendance, 0, len(scans))
	received := e.now()

	for _, scan := range scans {
		id := scan.ClientUUID.String()

		if _, dup := seen[scan.ClientUUID]; dup {
			res.Duplicate = append(res.Duplicate, id)
			e.log.Debug("duplicate scan in batch", zap.String("client_uuid", id))
			continue
		}

		exists, err := e.repo.ClientUUIDExists(ctx, scan.ClientUUID)
		if err != nil {
			err = &RetryableError{Err: fmt.Errorf("lookup client uuid %s: %w", id, err)}
			e.metrics.ObserveSync(0, 0, err, time.Since(start))
			return Result{}, err
		}
		if exists {
			res.Duplicate = append(res.Duplicate, id)
			e.log.Debug("scan already synced", zap.String("client_uuid", id))
			continue
		}

		clientUUID := scan.ClientUUID
		staged = append(staged, model.Attendance{
			ID:            e.newID(),
			ClientUUID:    &clientUUID,
			TripID:        scan.TripID,
			CheckpointID:  scan.CheckpointID,
			StudentID:     scan.StudentID,
			AssignmentID:  scan.AssignmentID,
			ScannedAt:     scan.ScannedAt,
			ScanMethod:    scan.ScanMethod,
			ScanSequence:  scan.ScanSequence,
			IsManual:      scan.IsManual,
			Justification: scan.Justification,
			Comment:       scan.Comment,
			CreatedAt:     received,
		})
		seen[scan.ClientUUID] = struct{}{}
		res.Accepted = append(res.Accepted, id)
	}

	if len(staged) > 0 {
		if err := e.repo.InsertBatch(ctx, staged); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				err = fmt.Errorf("%w: %v", ErrUnknownReference, err)
			} else {
				err = &RetryableError{Err: err}
			}
			e.metrics.ObserveSync(0, 0, err, time.Since(start))
			e.log.Warn("sync batch rejected",
				zap.String("device_id", deviceID),
				zap.Int("received", len(scans)),
				zap.Error(err),
			)
			return Result{}, err
		}
	}
	res.TotalInserted = len(res.Accepted)
	e.metrics.ObserveSync(len(res.Accepted), len(res.Duplicate), nil, time.Since(start))

	if deviceID == "" {
		deviceID = "unknown"
	}
	e.log.Info("sync batch committed",
		zap.String("device_id", deviceID),
		zap.Int("received", res.TotalReceived),
		zap.Int("inserted", res.TotalInserted),
		zap.Int("duplicates", len(res.Duplicate)),
	)

	if e.notifier != nil {
		entry := model.SyncLog{
			DeviceID:   deviceID,
			Received:   res.TotalReceived,
			Inserted:   res.TotalInserted,
			Duplicates: len(res.Duplicate),
			SyncedAt:   received,
		}
		if err := e.notifier.SyncCompleted(ctx, entry); err != nil {
			e.log.Warn("sync notification failed", zap.String("device_id", deviceID), zap.Error(err))
		}
	}
	return res, nil
}
