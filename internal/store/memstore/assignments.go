package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"schooltrack/internal/assignment"
	"schooltrack/internal/model"
)

type release struct {
	id int64
	at time.Time
}

type assignmentTx struct {
	t       *tables
	pending []release
}

// WithinTx runs fn as one assignment transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(assignment.Tx) error) error {
	return s.write(ctx, func(t *tables) error {
		tx := &assignmentTx{t: t}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Flush(ctx)
	})
}

func (tx *assignmentTx) IsParticipant(_ context.Context, tripID, studentID uuid.UUID) (bool, error) {
	_, ok := tx.t.participants[tripID][studentID]
	return ok, nil
}

func (tx *assignmentTx) ActiveForToken(_ context.Context, tripID uuid.UUID, tokenUID string) (*model.Assignment, error) {
	for _, a := range tx.t.assignments {
		if a.TripID == tripID && a.TokenUID == tokenUID && a.Active() {
			a := a
			return &a, nil
		}
	}
	return nil, nil
}

func (tx *assignmentTx) ActiveForStudent(_ context.Context, tripID, studentID uuid.UUID) (*model.Assignment, error) {
	for _, a := range tx.t.assignments {
		if a.TripID == tripID && a.StudentID == studentID && a.Active() {
			a := a
			return &a, nil
		}
	}
	return nil, nil
}

func (tx *assignmentTx) Release(_ context.Context, id int64, at time.Time) error {
	tx.pending = append(tx.pending, release{id: id, at: at})
	return nil
}

func (tx *assignmentTx) Flush(context.Context) error {
	for _, r := range tx.pending {
		idx := int(r.id) - 1
		if idx < 0 || idx >= len(tx.t.assignments) {
			return model.ErrNotFound
		}
		if tx.t.assignments[idx].ReleasedAt == nil {
			at := r.at
			tx.t.assignments[idx].ReleasedAt = &at
		}
	}
	tx.pending = tx.pending[:0]
	return nil
}

// Insert enforces the foreign keys and the partial unique indexes against
// flushed state only.
func (tx *assignmentTx) Insert(_ context.Context, a model.Assignment) (model.Assignment, error) {
	if _, ok := tx.t.trips[a.TripID]; !ok {
		return model.Assignment{}, &model.MissingReference{Constraint: model.ConstraintAssignmentTrip}
	}
	if _, ok := tx.t.students[a.StudentID]; !ok {
		return model.Assignment{}, &model.MissingReference{Constraint: model.ConstraintAssignmentStudent}
	}
	for _, cur := range tx.t.assignments {
		if !cur.Active() || cur.TripID != a.TripID {
			continue
		}
		if cur.TokenUID == a.TokenUID {
			return model.Assignment{}, &model.UniqueViolation{Constraint: model.ConstraintActiveToken}
		}
		if cur.StudentID == a.StudentID {
			return model.Assignment{}, &model.UniqueViolation{Constraint: model.ConstraintActiveStudent}
		}
	}
	a.ID = int64(len(tx.t.assignments) + 1)
	a.ReleasedAt = nil
	tx.t.assignments = append(tx.t.assignments, a)
	return a, nil
}

func (tx *assignmentTx) MarkTokenAssigned(_ context.Context, uid string, at time.Time) error {
	tok, ok := tx.t.tokens[uid]
	if !ok {
		return nil
	}
	tok.Status = model.TokenAssigned
	tok.LastAssignedAt = &at
	tx.t.tokens[uid] = tok
	return nil
}

// CountParticipants returns the number of students enrolled in a trip.
func (s *Store) CountParticipants(_ context.Context, tripID uuid.UUID) (int, error) {
	var n int
	s.read(func(t *tables) { n = len(t.participants[tripID]) })
	return n, nil
}

func activeOf(t *tables, tripID uuid.UUID) []model.Assignment {
	var out []model.Assignment
	for _, a := range t.assignments {
		if a.TripID == tripID && a.Active() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out
}

// ListActive returns the active assignments of a trip by assignment time.
func (s *Store) ListActive(_ context.Context, tripID uuid.UUID) ([]model.Assignment, error) {
	var out []model.Assignment
	s.read(func(t *tables) { out = activeOf(t, tripID) })
	return out, nil
}

// ReleaseAllForTrip releases every active assignment of a trip.
func (s *Store) ReleaseAllForTrip(ctx context.Context, tripID uuid.UUID, at time.Time) (int, error) {
	var n int
	err := s.write(ctx, func(t *tables) error {
		n = 0
		for i := range t.assignments {
			if t.assignments[i].TripID == tripID && t.assignments[i].Active() {
				released := at
				t.assignments[i].ReleasedAt = &released
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ListTripStudents returns participants with their active assignment.
func (s *Store) ListTripStudents(_ context.Context, tripID uuid.UUID) ([]assignment.TripStudent, error) {
	var out []assignment.TripStudent
	s.read(func(t *tables) {
		active := make(map[uuid.UUID]model.Assignment)
		for _, a := range activeOf(t, tripID) {
			active[a.StudentID] = a
		}
		for id := range t.participants[tripID] {
			st, ok := t.students[id]
			if !ok {
				continue
			}
			row := assignment.TripStudent{ID: st.ID, FirstName: st.FirstName, LastName: st.LastName, Email: st.Email}
			if a, ok := active[id]; ok {
				uid, kind, at := a.TokenUID, a.Kind, a.AssignedAt
				row.TokenUID, row.Kind, row.AssignedAt = &uid, &kind, &at
			}
			out = append(out, row)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].FirstName < out[j].FirstName
	})
	return out, nil
}

// RegisterToken inserts a stock token unless the uid already exists.
func (s *Store) RegisterToken(ctx context.Context, tok model.Token) (model.Token, bool, error) {
	var (
		out     model.Token
		created bool
	)
	err := s.write(ctx, func(t *tables) error {
		if cur, ok := t.tokens[tok.UID]; ok {
			out = cur
			return nil
		}
		t.tokens[tok.UID] = tok
		out, created = tok, true
		return nil
	})
	return out, created, err
}

// ListTokens returns the stock ordered by uid.
func (s *Store) ListTokens(_ context.Context) ([]model.Token, error) {
	var out []model.Token
	s.read(func(t *tables) {
		for _, tok := range t.tokens {
			out = append(out, tok)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}
