package trip

import (
	"context"

	"github.com/google/uuid"

	"schooltrack/internal/model"
)

// Tx is a unit of work over trips, participants and checkpoints.
type Tx interface {
	GetTrip(ctx context.Context, id uuid.UUID) (model.Trip, error)
	InsertTrip(ctx context.Context, t model.Trip) error
	UpdateTrip(ctx context.Context, t model.Trip) error
	// StudentsOfClasses returns the distinct students enrolled in any of the classes.
	StudentsOfClasses(ctx context.Context, classIDs []uuid.UUID) ([]uuid.UUID, error)
	ReplaceParticipants(ctx context.Context, tripID uuid.UUID, studentIDs []uuid.UUID) error

	MaxCheckpointOrder(ctx context.Context, tripID uuid.UUID) (int, error)
	InsertCheckpoint(ctx context.Context, c model.Checkpoint) error
	GetCheckpoint(ctx context.Context, id uuid.UUID) (model.Checkpoint, error)
	UpdateCheckpoint(ctx context.Context, c model.Checkpoint) error
}

// Repository is the storage collaborator of the trip service. Lookups of
// missing rows return model.ErrNotFound.
type Repository interface {
	TripsWithinTx(ctx context.Context, fn func(Tx) error) error

	GetTrip(ctx context.Context, id uuid.UUID) (model.Trip, error)
	// ListTrips returns non-archived trips, most recent date first.
	ListTrips(ctx context.Context) ([]model.Trip, error)
	CountParticipants(ctx context.Context, tripID uuid.UUID) (int, error)
	// ListCheckpoints returns non-archived checkpoints by sequence order.
	ListCheckpoints(ctx context.Context, tripID uuid.UUID) ([]model.Checkpoint, error)
	// ConcludedTripsWithActiveAssignments lists COMPLETED or ARCHIVED trips
	// that still hold active assignments.
	ConcludedTripsWithActiveAssignments(ctx context.Context) ([]uuid.UUID, error)
}
