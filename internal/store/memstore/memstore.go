// Package memstore is an in-memory storage backend. Transactions run one at a
// time against a private copy of the tables that replaces the shared state on
// commit, so a failed transaction leaves nothing behind.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"schooltrack/internal/model"
)

type set map[uuid.UUID]struct{}

type tables struct {
	students      map[uuid.UUID]model.Student
	classes       map[uuid.UUID]model.Class
	classStudents map[uuid.UUID]set
	trips         map[uuid.UUID]model.Trip
	participants  map[uuid.UUID]set
	checkpoints   map[uuid.UUID]model.Checkpoint
	tokens        map[string]model.Token
	assignments   []model.Assignment
	attendances   []model.Attendance
	clientUUIDs   set
	syncLogs      []model.SyncLog
	devices       map[string]struct{}
	refresh       map[string]refreshToken
}

func newTables() *tables {
	return &tables{
		students:      make(map[uuid.UUID]model.Student),
		classes:       make(map[uuid.UUID]model.Class),
		classStudents: make(map[uuid.UUID]set),
		trips:         make(map[uuid.UUID]model.Trip),
		participants:  make(map[uuid.UUID]set),
		checkpoints:   make(map[uuid.UUID]model.Checkpoint),
		tokens:        make(map[string]model.Token),
		clientUUIDs:   make(set),
		devices:       make(map[string]struct{}),
		refresh:       make(map[string]refreshToken),
	}
}

func cloneSets(in map[uuid.UUID]set) map[uuid.UUID]set {
	out := make(map[uuid.UUID]set, len(in))
	for k, v := range in {
		s := make(set, len(v))
		for id := range v {
			s[id] = struct{}{}
		}
		out[k] = s
	}
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (t *tables) clone() *tables {
	c := &tables{
		students:      cloneMap(t.students),
		classes:       cloneMap(t.classes),
		classStudents: cloneSets(t.classStudents),
		trips:         cloneMap(t.trips),
		participants:  cloneSets(t.participants),
		checkpoints:   cloneMap(t.checkpoints),
		tokens:        cloneMap(t.tokens),
		assignments:   append([]model.Assignment(nil), t.assignments...),
		attendances:   append([]model.Attendance(nil), t.attendances...),
		clientUUIDs:   make(set, len(t.clientUUIDs)),
		syncLogs:      append([]model.SyncLog(nil), t.syncLogs...),
		devices:       cloneMap(t.devices),
		refresh:       cloneMap(t.refresh),
	}
	for id := range t.clientUUIDs {
		c.clientUUIDs[id] = struct{}{}
	}
	return c
}

// Store holds all tables behind one lock.
type Store struct {
	mu        sync.Mutex
	t         *tables
	commitErr error
}

// New returns an empty store.
func New() *Store {
	return &Store{t: newTables()}
}

// FailCommits makes every following commit fail with err until called with nil.
func (s *Store) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// Healthy always reports true.
func (s *Store) Healthy(context.Context) bool { return true }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// read runs fn against the committed tables.
func (s *Store) read(fn func(t *tables)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.t)
}

// write runs fn against a working copy and publishes it when fn succeeds and
// the commit is not failed on purpose.
func (s *Store) write(ctx context.Context, fn func(t *tables) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.t.clone()
	if err := fn(work); err != nil {
		return err
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	s.t = work
	return nil
}
