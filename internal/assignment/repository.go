package assignment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schooltrack/internal/model"
)

// Tx is the unit of work used by Assign and Reassign. Everything done through
// a Tx commits or rolls back together.
//
// Release only stages the release; Flush sends staged releases to storage so
// that statements issued afterwards in the same Tx observe them. Insert is
// checked against the partial unique indexes on active (token, trip) and
// active (student, trip) and reports a *model.UniqueViolation on conflict.
type Tx interface {
	IsParticipant(ctx context.Context, tripID, studentID uuid.UUID) (bool, error)
	ActiveForToken(ctx context.Context, tripID uuid.UUID, tokenUID string) (*model.Assignment, error)
	ActiveForStudent(ctx context.Context, tripID, studentID uuid.UUID) (*model.Assignment, error)
	Release(ctx context.Context, id int64, at time.Time) error
	Flush(ctx context.Context) error
	Insert(ctx context.Context, a model.Assignment) (model.Assignment, error)
	// MarkTokenAssigned moves a registered stock token to ASSIGNED. It is a
	// no-op when uid is not registered stock (digital QR codes).
	MarkTokenAssigned(ctx context.Context, uid string, at time.Time) error
}

// Repository is the storage collaborator of the assignment service.
type Repository interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error

	CountParticipants(ctx context.Context, tripID uuid.UUID) (int, error)
	// ListActive returns active assignments ordered by assignment time.
	ListActive(ctx context.Context, tripID uuid.UUID) ([]model.Assignment, error)
	ReleaseAllForTrip(ctx context.Context, tripID uuid.UUID, at time.Time) (int, error)
	// ListTripStudents returns participants ordered by last then first name,
	// each with its active assignment if any.
	ListTripStudents(ctx context.Context, tripID uuid.UUID) ([]TripStudent, error)

	// RegisterToken inserts stock; created is false when the uid already exists.
	RegisterToken(ctx context.Context, t model.Token) (token model.Token, created bool, err error)
	ListTokens(ctx context.Context) ([]model.Token, error)
}
