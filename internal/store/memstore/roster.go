package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"schooltrack/internal/model"
)

func (s *Store) InsertStudent(ctx context.Context, st model.Student) error {
	return s.write(ctx, func(t *tables) error {
		t.students[st.ID] = st
		return nil
	})
}

func (s *Store) GetStudent(_ context.Context, id uuid.UUID) (model.Student, error) {
	var (
		st model.Student
		ok bool
	)
	s.read(func(t *tables) { st, ok = t.students[id] })
	if !ok {
		return model.Student{}, model.ErrNotFound
	}
	return st, nil
}

func (s *Store) ListStudents(_ context.Context) ([]model.Student, error) {
	var out []model.Student
	s.read(func(t *tables) {
		for _, st := range t.students {
			out = append(out, st)
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

func (s *Store) InsertClass(ctx context.Context, c model.Class) error {
	return s.write(ctx, func(t *tables) error {
		for _, cur := range t.classes {
			if cur.Name == c.Name {
				return &model.UniqueViolation{Constraint: model.ConstraintClassName}
			}
		}
		t.classes[c.ID] = c
		return nil
	})
}

func (s *Store) GetClass(_ context.Context, id uuid.UUID) (model.Class, error) {
	var (
		c  model.Class
		ok bool
	)
	s.read(func(t *tables) { c, ok = t.classes[id] })
	if !ok {
		return model.Class{}, model.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListClasses(_ context.Context) ([]model.Class, error) {
	var out []model.Class
	s.read(func(t *tables) {
		for _, c := range t.classes {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Enroll(ctx context.Context, classID uuid.UUID, studentIDs []uuid.UUID) (int, error) {
	var added int
	err := s.write(ctx, func(t *tables) error {
		added = 0
		members, ok := t.classStudents[classID]
		if !ok {
			members = make(set)
			t.classStudents[classID] = members
		}
		for _, id := range studentIDs {
			if _, dup := members[id]; dup {
				continue
			}
			members[id] = struct{}{}
			added++
		}
		return nil
	})
	return added, err
}

type refreshToken struct {
	deviceID  string
	expiresAt time.Time
	revoked   bool
}

// UpsertDevice records a device id.
func (s *Store) UpsertDevice(ctx context.Context, deviceID string) error {
	return s.write(ctx, func(t *tables) error {
		t.devices[deviceID] = struct{}{}
		return nil
	})
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (s *Store) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	return s.write(ctx, func(t *tables) error {
		t.refresh[token] = refreshToken{deviceID: deviceID, expiresAt: expiresAt}
		return nil
	})
}

// ConsumeRefreshToken revokes a live token and reports whether it was live.
func (s *Store) ConsumeRefreshToken(ctx context.Context, deviceID, token string, now time.Time) (bool, error) {
	var live bool
	err := s.write(ctx, func(t *tables) error {
		rt, ok := t.refresh[token]
		live = ok && !rt.revoked && rt.deviceID == deviceID && rt.expiresAt.After(now)
		if ok {
			rt.revoked = true
			t.refresh[token] = rt
		}
		return nil
	})
	return live, err
}
