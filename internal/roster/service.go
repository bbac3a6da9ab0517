package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"schooltrack/internal/model"
)

// ErrInvalid is returned for malformed student or class data.
var ErrInvalid = errors.New("invalid roster request")

// Repository stores students, classes and class enrolment.
type Repository interface {
	InsertStudent(ctx context.Context, s model.Student) error
	GetStudent(ctx context.Context, id uuid.UUID) (model.Student, error)
	// ListStudents returns students ordered by last then first name.
	ListStudents(ctx context.Context) ([]model.Student, error)
	InsertClass(ctx context.Context, c model.Class) error
	GetClass(ctx context.Context, id uuid.UUID) (model.Class, error)
	ListClasses(ctx context.Context) ([]model.Class, error)
	// Enroll adds the students to the class, ignoring existing enrolments,
	// and returns how many were added.
	Enroll(ctx context.Context, classID uuid.UUID, studentIDs []uuid.UUID) (int, error)
}

// Service is the minimal student/class collaborator trips are built from.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() uuid.UUID
}

// NewService creates a roster service.
func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}
}

// CreateStudent registers a student.
func (s *Service) CreateStudent(ctx context.Context, firstName, lastName string, email *string) (model.Student, error) {
	firstName, lastName = strings.TrimSpace(firstName), strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return model.Student{}, fmt.Errorf("%w: first and last name are required", ErrInvalid)
	}
	if email != nil {
		e := strings.ToLower(strings.TrimSpace(*email))
		if e == "" {
			email = nil
		} else {
			email = &e
		}
	}
	st := model.Student{
		ID:        s.newID(),
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertStudent(ctx, st); err != nil {
		return model.Student{}, err
	}
	return st, nil
}

func (s *Service) GetStudent(ctx context.Context, id uuid.UUID) (model.Student, error) {
	return s.repo.GetStudent(ctx, id)
}

func (s *Service) ListStudents(ctx context.Context) ([]model.Student, error) {
	return s.repo.ListStudents(ctx)
}

// CreateClass registers a class. Names are unique.
func (s *Service) CreateClass(ctx context.Context, name string, year *string) (model.Class, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Class{}, fmt.Errorf("%w: class name is required", ErrInvalid)
	}
	c := model.Class{ID: s.newID(), Name: name, Year: year, CreatedAt: s.now()}
	if err := s.repo.InsertClass(ctx, c); err != nil {
		return model.Class{}, err
	}
	return c, nil
}

func (s *Service) ListClasses(ctx context.Context) ([]model.Class, error) {
	return s.repo.ListClasses(ctx)
}

// EnrollStudents adds students to a class. Re-enrolling is a no-op.
func (s *Service) EnrollStudents(ctx context.Context, classID uuid.UUID, studentIDs []uuid.UUID) (int, error) {
	if len(studentIDs) == 0 {
		return 0, fmt.Errorf("%w: no students given", ErrInvalid)
	}
	if _, err := s.repo.GetClass(ctx, classID); err != nil {
		return 0, err
	}
	for _, id := range studentIDs {
		if _, err := s.repo.GetStudent(ctx, id); err != nil {
			return 0, fmt.Errorf("student %s: %w", id, err)
		}
	}
	return s.repo.Enroll(ctx, classID, studentIDs)
}
