package trip

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schooltrack/internal/model"
)

// OfflineTrip is the trip header carried in an offline bundle.
type OfflineTrip struct {
	ID          uuid.UUID        `json:"id"`
	Destination string           `json:"destination"`
	Date        string           `json:"date"`
	Description *string          `json:"description"`
	Status      model.TripStatus `json:"status"`
}

// OfflineAssignment is the active token of a student.
type OfflineAssignment struct {
	TokenUID string               `json:"token_uid"`
	Kind     model.AssignmentKind `json:"assignment_type"`
}

// OfflineStudent is a participant with its active token, nil when unassigned.
type OfflineStudent struct {
	ID         uuid.UUID          `json:"id"`
	FirstName  string             `json:"first_name"`
	LastName   string             `json:"last_name"`
	Assignment *OfflineAssignment `json:"assignment"`
}

// OfflineCheckpoint is an existing checkpoint of the trip.
type OfflineCheckpoint struct {
	ID            uuid.UUID              `json:"id"`
	Name          string                 `json:"name"`
	SequenceOrder int                    `json:"sequence_order"`
	Status        model.CheckpointStatus `json:"status"`
}

// OfflineBundle is everything the mobile client needs to run a trip without
// network access.
type OfflineBundle struct {
	Trip        OfflineTrip         `json:"trip"`
	Students    []OfflineStudent    `json:"students"`
	Checkpoints []OfflineCheckpoint `json:"checkpoints"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// OfflineBundle assembles the offline data of a trip. Archived trips have no
// bundle.
func (s *Service) OfflineBundle(ctx context.Context, tripID uuid.UUID) (OfflineBundle, error) {
	t, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return OfflineBundle{}, err
	}
	if t.Status == model.TripArchived {
		return OfflineBundle{}, ErrArchived
	}

	roster, err := s.assignments.TripStudents(ctx, tripID)
	if err != nil {
		return OfflineBundle{}, err
	}
	students := make([]OfflineStudent, 0, len(roster.Students))
	for _, st := range roster.Students {
		entry := OfflineStudent{ID: st.ID, FirstName: st.FirstName, LastName: st.LastName}
		if st.TokenUID != nil && st.Kind != nil {
			entry.Assignment = &OfflineAssignment{TokenUID: *st.TokenUID, Kind: *st.Kind}
		}
		students = append(students, entry)
	}

	cps, err := s.repo.ListCheckpoints(ctx, tripID)
	if err != nil {
		return OfflineBundle{}, err
	}
	checkpoints := make([]OfflineCheckpoint, 0, len(cps))
	for _, c := range cps {
		checkpoints = append(checkpoints, OfflineCheckpoint{
			ID:            c.ID,
			Name:          c.Name,
			SequenceOrder: c.SequenceOrder,
			Status:        c.Status,
		})
	}

	return OfflineBundle{
		Trip: OfflineTrip{
			ID:          t.ID,
			Destination: t.Destination,
			Date:        t.Date.Format(time.DateOnly),
			Description: t.Description,
			Status:      t.Status,
		},
		Students:    students,
		Checkpoints: checkpoints,
		GeneratedAt: s.now(),
	}, nil
}
