package trip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schooltrack/internal/assignment"
	"schooltrack/internal/model"
)

var (
	ErrInvalid          = errors.New("invalid trip request")
	ErrConcluded        = errors.New("trip is completed or archived")
	ErrArchived         = errors.New("trip is archived")
	ErrCheckpointDraft  = errors.New("cannot close a checkpoint in DRAFT status")
	ErrCheckpointClosed = errors.New("checkpoint is already closed")
)

// Assignments is the part of the assignment service trips depend on.
type Assignments interface {
	ReleaseAllForTrip(ctx context.Context, tripID uuid.UUID) (int, error)
	TripStudents(ctx context.Context, tripID uuid.UUID) (assignment.TripStudents, error)
}

// View is a trip together with its participant count.
type View struct {
	model.Trip
	TotalStudents int `json:"total_students"`
}

// CreateInput holds the fields of a new trip.
type CreateInput struct {
	Destination string
	Date        time.Time
	Description *string
	ClassIDs    []uuid.UUID
}

// UpdateInput holds a partial trip update. Nil fields are left unchanged; a
// non-nil ClassIDs replaces the participants.
type UpdateInput struct {
	Destination *string
	Date        *time.Time
	Description *string
	Status      *model.TripStatus
	ClassIDs    []uuid.UUID
}

// Service manages trips and their checkpoints.
type Service struct {
	repo        Repository
	assignments Assignments
	log         *zap.Logger
	now         func() time.Time
	newID       func() uuid.UUID
}

// NewService creates a trip service.
func NewService(repo Repository, assignments Assignments, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		assignments: assignments,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.New,
	}
}

func (s *Service) today() time.Time {
	return s.now().Truncate(24 * time.Hour)
}

func (s *Service) validateDate(d time.Time) error {
	if !d.Truncate(24 * time.Hour).After(s.today()) {
		return fmt.Errorf("%w: trip date must be in the future", ErrInvalid)
	}
	return nil
}

// Create inserts a trip and enrols every student of the given classes.
func (s *Service) Create(ctx context.Context, in CreateInput) (View, error) {
	dest := strings.TrimSpace(in.Destination)
	if dest == "" {
		return View{}, fmt.Errorf("%w: destination must not be empty", ErrInvalid)
	}
	if len(in.ClassIDs) == 0 {
		return View{}, fmt.Errorf("%w: at least one class is required", ErrInvalid)
	}
	if err := s.validateDate(in.Date); err != nil {
		return View{}, err
	}

	now := s.now()
	t := model.Trip{
		ID:          s.newID(),
		Destination: dest,
		Date:        in.Date.Truncate(24 * time.Hour),
		Description: in.Description,
		Status:      model.TripPlanned,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var participants int
	err := s.repo.TripsWithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertTrip(ctx, t); err != nil {
			return err
		}
		ids, err := tx.StudentsOfClasses(ctx, in.ClassIDs)
		if err != nil {
			return err
		}
		participants = len(ids)
		return tx.ReplaceParticipants(ctx, t.ID, ids)
	})
	if err != nil {
		return View{}, err
	}
	s.log.Info("trip created",
		zap.Stringer("trip_id", t.ID),
		zap.String("destination", t.Destination),
		zap.Int("students", participants),
	)
	return View{Trip: t, TotalStudents: participants}, nil
}

// Get returns one trip.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (View, error) {
	t, err := s.repo.GetTrip(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, t)
}

// List returns all non-archived trips, most recent first.
func (s *Service) List(ctx context.Context) ([]View, error) {
	trips, err := s.repo.ListTrips(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(trips))
	for _, t := range trips {
		v, err := s.view(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) view(ctx context.Context, t model.Trip) (View, error) {
	n, err := s.repo.CountParticipants(ctx, t.ID)
	if err != nil {
		return View{}, err
	}
	return View{Trip: t, TotalStudents: n}, nil
}

// Update applies a partial update. Moving a trip to COMPLETED or ARCHIVED
// releases its tokens.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (View, error) {
	if in.Destination != nil && strings.TrimSpace(*in.Destination) == "" {
		return View{}, fmt.Errorf("%w: destination must not be empty", ErrInvalid)
	}
	if in.Date != nil {
		if err := s.validateDate(*in.Date); err != nil {
			return View{}, err
		}
	}
	if in.Status != nil && !in.Status.Valid() {
		return View{}, fmt.Errorf("%w: unknown status %q", ErrInvalid, *in.Status)
	}

	var updated model.Trip
	err := s.repo.TripsWithinTx(ctx, func(tx Tx) error {
		t, err := tx.GetTrip(ctx, id)
		if err != nil {
			return err
		}
		if in.Destination != nil {
			t.Destination = strings.TrimSpace(*in.Destination)
		}
		if in.Date != nil {
			t.Date = in.Date.Truncate(24 * time.Hour)
		}
		if in.Description != nil {
			t.Description = in.Description
		}
		if in.Status != nil {
			t.Status = *in.Status
		}
		t.UpdatedAt = s.now()
		if err := tx.UpdateTrip(ctx, t); err != nil {
			return err
		}
		if in.ClassIDs != nil {
			ids, err := tx.StudentsOfClasses(ctx, in.ClassIDs)
			if err != nil {
				return err
			}
			if err := tx.ReplaceParticipants(ctx, t.ID, ids); err != nil {
				return err
			}
		}
		updated = t
		return nil
	})
	if err != nil {
		return View{}, err
	}
	if updated.Status.Concluded() {
		s.release(ctx, updated.ID)
	}
	return s.view(ctx, updated)
}

// Archive marks a trip ARCHIVED and releases its tokens.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) error {
	status := model.TripArchived
	err := s.repo.TripsWithinTx(ctx, func(tx Tx) error {
		t, err := tx.GetTrip(ctx, id)
		if err != nil {
			return err
		}
		t.Status = status
		t.UpdatedAt = s.now()
		return tx.UpdateTrip(ctx, t)
	})
	if err != nil {
		return err
	}
	s.release(ctx, id)
	return nil
}

// release is best effort: the worker sweep picks up concluded trips whose
// assignments are still active.
func (s *Service) release(ctx context.Context, tripID uuid.UUID) {
	if s.assignments == nil {
		return
	}
	if _, err := s.assignments.ReleaseAllForTrip(ctx, tripID); err != nil {
		s.log.Warn("release tokens of concluded trip failed", zap.Stringer("trip_id", tripID), zap.Error(err))
	}
}

// SweepConcluded releases remaining active assignments of concluded trips
// and returns the number of assignments released.
func (s *Service) SweepConcluded(ctx context.Context) (int, error) {
	ids, err := s.repo.ConcludedTripsWithActiveAssignments(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		n, err := s.assignments.ReleaseAllForTrip(ctx, id)
		if err != nil {
			return total, fmt.Errorf("release trip %s: %w", id, err)
		}
		total += n
	}
	return total, nil
}

// CreateCheckpoint adds a DRAFT checkpoint at the end of the trip sequence.
func (s *Service) CreateCheckpoint(ctx context.Context, tripID uuid.UUID, name string, description *string) (model.Checkpoint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Checkpoint{}, fmt.Errorf("%w: checkpoint name must not be empty", ErrInvalid)
	}

	var cp model.Checkpoint
	err := s.repo.TripsWithinTx(ctx, func(tx Tx) error {
		t, err := tx.GetTrip(ctx, tripID)
		if err != nil {
			return err
		}
		if t.Status.Concluded() {
			return fmt.Errorf("%w: cannot add a checkpoint to a %s trip", ErrConcluded, t.Status)
		}
		last, err := tx.MaxCheckpointOrder(ctx, tripID)
		if err != nil {
			return err
		}
		cp = model.Checkpoint{
			ID:            s.newID(),
			TripID:        tripID,
			Name:          name,
			Description:   description,
			SequenceOrder: last + 1,
			Status:        model.CheckpointDraft,
			CreatedAt:     s.now(),
		}
		return tx.InsertCheckpoint(ctx, cp)
	})
	if err != nil {
		return model.Checkpoint{}, err
	}
	return cp, nil
}

// CloseCheckpoint moves an ACTIVE checkpoint to CLOSED.
func (s *Service) CloseCheckpoint(ctx context.Context, id uuid.UUID) (model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.repo.TripsWithinTx(ctx, func(tx Tx) error {
		c, err := tx.GetCheckpoint(ctx, id)
		if err != nil {
			return err
		}
		switch c.Status {
		case model.CheckpointDraft:
			return ErrCheckpointDraft
		case model.CheckpointClosed:
			return ErrCheckpointClosed
		}
		now := s.now()
		c.Status = model.CheckpointClosed
		c.ClosedAt = &now
		if err := tx.UpdateCheckpoint(ctx, c); err != nil {
			return err
		}
		cp = c
		return nil
	})
	if err != nil {
		return model.Checkpoint{}, err
	}
	return cp, nil
}

// ListCheckpoints returns the checkpoints of a trip by sequence order.
func (s *Service) ListCheckpoints(ctx context.Context, tripID uuid.UUID) ([]model.Checkpoint, error) {
	if _, err := s.repo.GetTrip(ctx, tripID); err != nil {
		return nil, err
	}
	return s.repo.ListCheckpoints(ctx, tripID)
}
