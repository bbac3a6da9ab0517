package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schooltrack/internal/assignment"
	"schooltrack/internal/model"
	"schooltrack/internal/roster"
	"schooltrack/internal/store"
	"schooltrack/internal/trip"
)

type pgFixture struct {
	repo     *store.Repository
	svc      *assignment.Service
	trips    *trip.Service
	tripID   uuid.UUID
	students []model.Student
}

// newPGFixture migrates the database named by DATABASE_URL and creates a
// fresh trip with n participants. Rows from earlier runs are left in place.
func newPGFixture(t *testing.T, n int) *pgFixture {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping Postgres test: DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := store.NewDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	f := &pgFixture{repo: store.NewRepository(db.Client)}
	r := roster.NewService(f.repo)
	class, err := r.CreateClass(ctx, "it-"+uuid.NewString()[:8], nil)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		s, err := r.CreateStudent(ctx, fmt.Sprintf("First%d", i), fmt.Sprintf("Last%02d", i), nil)
		require.NoError(t, err)
		f.students = append(f.students, s)
		ids = append(ids, s.ID)
	}
	_, err = r.EnrollStudents(ctx, class.ID, ids)
	require.NoError(t, err)

	f.svc = assignment.NewService(f.repo, zap.NewNop(), nil)
	f.trips = trip.NewService(f.repo, f.svc, zap.NewNop())
	v, err := f.trips.Create(ctx, trip.CreateInput{
		Destination: "Grenoble",
		Date:        time.Now().UTC().AddDate(0, 0, 21),
		ClassIDs:    []uuid.UUID{class.ID},
	})
	require.NoError(t, err)
	f.tripID = v.ID
	return f
}

func (f *pgFixture) req(token string, s model.Student) assignment.Request {
	return assignment.Request{TokenUID: token, StudentID: s.ID, TripID: f.tripID, Kind: model.KindNFCPhysical}
}

// run calls op concurrently n times and counts successes. Errors must match
// one of allowed.
func run(t *testing.T, n int, op func(i int) error, allowed ...error) int {
	t.Helper()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := op(i)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			for _, target := range allowed {
				if errors.Is(err, target) {
					return
				}
			}
			t.Errorf("unexpected error: %v", err)
		}(i)
	}
	wg.Wait()
	return wins
}

func TestPostgresConcurrentAssignSameToken(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t, 6)

	token := "IT-" + uuid.NewString()[:8]
	wins := run(t, len(f.students), func(i int) error {
		_, err := f.svc.Assign(ctx, f.req(token, f.students[i]))
		return err
	}, assignment.ErrTokenAlreadyAssigned)
	assert.Equal(t, 1, wins)

	st, err := f.svc.Status(ctx, f.tripID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.AssignedStudents)
	assert.Equal(t, len(f.students)-1, st.UnassignedStudents)
}

func TestPostgresConcurrentAssignSameStudent(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t, 1)

	wins := run(t, 6, func(i int) error {
		_, err := f.svc.Assign(ctx, f.req(fmt.Sprintf("IT-%s-%d", f.tripID.String()[:8], i), f.students[0]))
		return err
	}, assignment.ErrStudentAlreadyAssigned)
	assert.Equal(t, 1, wins)

	active, err := f.repo.ListActive(ctx, f.tripID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPostgresConcurrentReassign(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t, 2)
	prefix := "IT-" + f.tripID.String()[:8]

	_, err := f.svc.Assign(ctx, f.req(prefix+"-old", f.students[0]))
	require.NoError(t, err)

	// Every reassignment targets the same student with a different token.
	wins := run(t, 6, func(i int) error {
		_, err := f.svc.Reassign(ctx, f.req(fmt.Sprintf("%s-%d", prefix, i), f.students[0]), "bracelet cassé")
		return err
	}, assignment.ErrStudentAlreadyAssigned, assignment.ErrTokenAlreadyAssigned)
	assert.GreaterOrEqual(t, wins, 1)

	active, err := f.repo.ListActive(ctx, f.tripID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, f.students[0].ID, active[0].StudentID)
	assert.NotEqual(t, prefix+"-old", active[0].TokenUID)
}

func TestPostgresReassignUnknownTrip(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t, 1)

	req := f.req("IT-"+uuid.NewString()[:8], f.students[0])
	req.TripID = uuid.New()
	_, err := f.svc.Reassign(ctx, req, "bracelet cassé")
	require.ErrorIs(t, err, model.ErrNotFound)

	var mr *model.MissingReference
	require.ErrorAs(t, err, &mr)
	assert.Equal(t, model.ConstraintAssignmentTrip, mr.Constraint)
}

func TestPostgresInsertBatchUnknownCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t, 1)

	clientUUID := uuid.New()
	err := f.repo.InsertBatch(ctx, []model.Attendance{{
		ID:           uuid.New(),
		ClientUUID:   &clientUUID,
		TripID:       f.tripID,
		CheckpointID: uuid.New(),
		StudentID:    f.students[0].ID,
		ScannedAt:    time.Now().UTC(),
		ScanMethod:   model.ScanNFCPhysical,
		ScanSequence: 1,
		CreatedAt:    time.Now().UTC(),
	}})
	var mr *model.MissingReference
	require.ErrorAs(t, err, &mr)
	assert.Equal(t, model.ConstraintAttendanceCheckpoint, mr.Constraint)

	exists, err := f.repo.ClientUUIDExists(ctx, clientUUID)
	require.NoError(t, err)
	assert.False(t, exists)
}
