package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"schooltrack/internal/model"
)

// ClientUUIDExists reports whether a scan with this idempotency key was committed.
func (s *Store) ClientUUIDExists(_ context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	s.read(func(t *tables) { _, ok = t.clientUUIDs[id] })
	return ok, nil
}

// InsertBatch appends the rows atomically. A checkpoint still in DRAFT moves
// to ACTIVE, started at the earliest scan of the batch.
func (s *Store) InsertBatch(ctx context.Context, rows []model.Attendance) error {
	return s.write(ctx, func(t *tables) error {
		firstScan := make(map[uuid.UUID]time.Time)
		for _, r := range rows {
			if err := checkReferences(t, r); err != nil {
				return err
			}
			if r.ClientUUID != nil {
				if _, dup := t.clientUUIDs[*r.ClientUUID]; dup {
					return &model.UniqueViolation{Constraint: model.ConstraintClientUUID}
				}
				t.clientUUIDs[*r.ClientUUID] = struct{}{}
			}
			t.attendances = append(t.attendances, r)
			if at, ok := firstScan[r.CheckpointID]; !ok || r.ScannedAt.Before(at) {
				firstScan[r.CheckpointID] = r.ScannedAt
			}
		}
		for id, at := range firstScan {
			if cp := t.checkpoints[id]; cp.Status == model.CheckpointDraft {
				started := at
				cp.Status = model.CheckpointActive
				cp.StartedAt = &started
				t.checkpoints[id] = cp
			}
		}
		return nil
	})
}

func checkReferences(t *tables, r model.Attendance) error {
	if _, ok := t.trips[r.TripID]; !ok {
		return &model.MissingReference{Constraint: model.ConstraintAttendanceTrip}
	}
	if _, ok := t.checkpoints[r.CheckpointID]; !ok {
		return &model.MissingReference{Constraint: model.ConstraintAttendanceCheckpoint}
	}
	if _, ok := t.students[r.StudentID]; !ok {
		return &model.MissingReference{Constraint: model.ConstraintAttendanceStudent}
	}
	if r.AssignmentID != nil && (*r.AssignmentID < 1 || *r.AssignmentID > int64(len(t.assignments))) {
		return &model.MissingReference{Constraint: model.ConstraintAttendanceAssignment}
	}
	return nil
}

// Attendances returns the committed scans of a trip in insertion order.
func (s *Store) Attendances(_ context.Context, tripID uuid.UUID) ([]model.Attendance, error) {
	var out []model.Attendance
	s.read(func(t *tables) {
		for _, a := range t.attendances {
			if a.TripID == tripID {
				out = append(out, a)
			}
		}
	})
	return out, nil
}

// InsertSyncLog records a committed sync batch.
func (s *Store) InsertSyncLog(ctx context.Context, entry model.SyncLog) error {
	return s.write(ctx, func(t *tables) error {
		t.syncLogs = append(t.syncLogs, entry)
		return nil
	})
}

// SyncLogs returns the recorded sync batches, most recent first.
func (s *Store) SyncLogs(_ context.Context, deviceID string) ([]model.SyncLog, error) {
	var out []model.SyncLog
	s.read(func(t *tables) {
		for _, l := range t.syncLogs {
			if deviceID == "" || l.DeviceID == deviceID {
				out = append(out, l)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].SyncedAt.After(out[j].SyncedAt) })
	return out, nil
}
