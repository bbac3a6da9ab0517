package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"schooltrack/internal/model"
	"schooltrack/internal/trip"
)

type tripTx struct {
	t *tables
}

// TripsWithinTx runs fn as one trip transaction.
func (s *Store) TripsWithinTx(ctx context.Context, fn func(trip.Tx) error) error {
	return s.write(ctx, func(t *tables) error {
		return fn(&tripTx{t: t})
	})
}

func (tx *tripTx) GetTrip(_ context.Context, id uuid.UUID) (model.Trip, error) {
	t, ok := tx.t.trips[id]
	if !ok {
		return model.Trip{}, model.ErrNotFound
	}
	return t, nil
}

func (tx *tripTx) InsertTrip(_ context.Context, t model.Trip) error {
	tx.t.trips[t.ID] = t
	return nil
}

func (tx *tripTx) UpdateTrip(_ context.Context, t model.Trip) error {
	if _, ok := tx.t.trips[t.ID]; !ok {
		return model.ErrNotFound
	}
	tx.t.trips[t.ID] = t
	return nil
}

func (tx *tripTx) StudentsOfClasses(_ context.Context, classIDs []uuid.UUID) ([]uuid.UUID, error) {
	seen := make(set)
	var out []uuid.UUID
	for _, cid := range classIDs {
		for sid := range tx.t.classStudents[cid] {
			if _, ok := seen[sid]; ok {
				continue
			}
			seen[sid] = struct{}{}
			out = append(out, sid)
		}
	}
	return out, nil
}

func (tx *tripTx) ReplaceParticipants(_ context.Context, tripID uuid.UUID, studentIDs []uuid.UUID) error {
	p := make(set, len(studentIDs))
	for _, id := range studentIDs {
		p[id] = struct{}{}
	}
	tx.t.participants[tripID] = p
	return nil
}

func (tx *tripTx) MaxCheckpointOrder(_ context.Context, tripID uuid.UUID) (int, error) {
	max := 0
	for _, c := range tx.t.checkpoints {
		if c.TripID == tripID && c.SequenceOrder > max {
			max = c.SequenceOrder
		}
	}
	return max, nil
}

func (tx *tripTx) InsertCheckpoint(_ context.Context, c model.Checkpoint) error {
	tx.t.checkpoints[c.ID] = c
	return nil
}

func (tx *tripTx) GetCheckpoint(_ context.Context, id uuid.UUID) (model.Checkpoint, error) {
	c, ok := tx.t.checkpoints[id]
	if !ok {
		return model.Checkpoint{}, model.ErrNotFound
	}
	return c, nil
}

func (tx *tripTx) UpdateCheckpoint(_ context.Context, c model.Checkpoint) error {
	if _, ok := tx.t.checkpoints[c.ID]; !ok {
		return model.ErrNotFound
	}
	tx.t.checkpoints[c.ID] = c
	return nil
}

// GetTrip returns a committed trip.
func (s *Store) GetTrip(_ context.Context, id uuid.UUID) (model.Trip, error) {
	var (
		t  model.Trip
		ok bool
	)
	s.read(func(tb *tables) { t, ok = tb.trips[id] })
	if !ok {
		return model.Trip{}, model.ErrNotFound
	}
	return t, nil
}

// ListTrips returns non-archived trips, most recent date first.
func (s *Store) ListTrips(_ context.Context) ([]model.Trip, error) {
	var out []model.Trip
	s.read(func(tb *tables) {
		for _, t := range tb.trips {
			if t.Status != model.TripArchived {
				out = append(out, t)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

// ListCheckpoints returns non-archived checkpoints of a trip by sequence.
func (s *Store) ListCheckpoints(_ context.Context, tripID uuid.UUID) ([]model.Checkpoint, error) {
	var out []model.Checkpoint
	s.read(func(tb *tables) {
		for _, c := range tb.checkpoints {
			if c.TripID == tripID && c.Status != model.CheckpointArchived {
				out = append(out, c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// ConcludedTripsWithActiveAssignments lists concluded trips still holding tokens.
func (s *Store) ConcludedTripsWithActiveAssignments(_ context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	s.read(func(tb *tables) {
		seen := make(set)
		for _, a := range tb.assignments {
			if !a.Active() {
				continue
			}
			t, ok := tb.trips[a.TripID]
			if !ok || !t.Status.Concluded() {
				continue
			}
			if _, dup := seen[t.ID]; !dup {
				seen[t.ID] = struct{}{}
				out = append(out, t.ID)
			}
		}
	})
	return out, nil
}
