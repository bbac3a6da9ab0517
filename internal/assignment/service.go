package assignment

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schooltrack/internal/metrics"
	"schooltrack/internal/model"
)

// CSV export layout.
const (
	csvBOM        = "\ufeff"
	csvTimeLayout = "2006-01-02 15:04:05"
)

var csvHeader = []string{"token_uid", "student_id", "assignment_type", "assigned_at"}

// Request describes an assign or reassign call.
type Request struct {
	TokenUID  string
	StudentID uuid.UUID
	TripID    uuid.UUID
	Kind      model.AssignmentKind
}

// Status summarises the assignments of one trip.
type Status struct {
	TripID             uuid.UUID          `json:"trip_id"`
	TotalStudents      int                `json:"total_students"`
	AssignedStudents   int                `json:"assigned_students"`
	UnassignedStudents int                `json:"unassigned_students"`
	Assignments        []model.Assignment `json:"assignments"`
}

// TripStudent is a trip participant with its active token, if any.
type TripStudent struct {
	ID         uuid.UUID             `json:"id"`
	FirstName  string                `json:"first_name"`
	LastName   string                `json:"last_name"`
	Email      *string               `json:"email"`
	TokenUID   *string               `json:"token_uid"`
	Kind       *model.AssignmentKind `json:"assignment_type"`
	AssignedAt *time.Time            `json:"assigned_at"`
}

// TripStudents is the roster view used by the assignment dashboard.
type TripStudents struct {
	TripID     uuid.UUID     `json:"trip_id"`
	Total      int           `json:"total"`
	Assigned   int           `json:"assigned"`
	Unassigned int           `json:"unassigned"`
	Students   []TripStudent `json:"students"`
}

// Service enforces the token/student exclusivity rules of a trip.
type Service struct {
	repo    Repository
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Request) normalize() error {
	r.TokenUID = model.NormalizeTokenUID(r.TokenUID)
	if r.TokenUID == "" {
		return fmt.Errorf("%w: token uid must not be empty", ErrInvalidRequest)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown assignment type %q", ErrInvalidRequest, r.Kind)
	}
	return nil
}

// Assign links a token to a trip participant. Preconditions are checked in
// order: participant, token free, student free.
func (s *Service) Assign(ctx context.Context, req Request) (model.Assignment, error) {
	if err := req.normalize(); err != nil {
		return model.Assignment{}, err
	}

	var created model.Assignment
	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		ok, err := tx.IsParticipant(ctx, req.TripID, req.StudentID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotParticipant
		}

		if taken, err := tx.ActiveForToken(ctx, req.TripID, req.TokenUID); err != nil {
			return err
		} else if taken != nil {
			return &Error{Code: CodeTokenAlreadyAssigned, TokenUID: req.TokenUID}
		}

		if taken, err := tx.ActiveForStudent(ctx, req.TripID, req.StudentID); err != nil {
			return err
		} else if taken != nil {
			return &Error{Code: CodeStudentAlreadyAssigned, TokenUID: req.TokenUID}
		}

		created, err = s.link(ctx, tx, req)
		return err
	})
	err = fromUniqueViolation(err, req.TokenUID)
	s.observe("assign", err)
	if err != nil {
		return model.Assignment{}, err
	}

	s.log.Info("token assigned",
		zap.String("token_uid", created.TokenUID),
		zap.Stringer("student_id", created.StudentID),
		zap.Stringer("trip_id", created.TripID),
		zap.String("assignment_type", string(created.Kind)),
	)
	return created, nil
}

// Reassign releases the active assignment of the token and the active
// assignment of the student on the trip, then links them. Participant
// membership is not re-validated.
func (s *Service) Reassign(ctx context.Context, req Request, justification string) (model.Assignment, error) {
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return model.Assignment{}, ErrJustificationRequired
	}
	if err := req.normalize(); err != nil {
		return model.Assignment{}, err
	}

	var (
		created  model.Assignment
		released []int64
	)
	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		released = released[:0]
		now := s.now()

		byToken, err := tx.ActiveForToken(ctx, req.TripID, req.TokenUID)
		if err != nil {
			return err
		}
		if byToken != nil {
			if err := tx.Release(ctx, byToken.ID, now); err != nil {
				return err
			}
			released = append(released, byToken.ID)
		}

		byStudent, err := tx.ActiveForStudent(ctx, req.TripID, req.StudentID)
		if err != nil {
			return err
		}
		if byStudent != nil && (byToken == nil || byStudent.ID != byToken.ID) {
			if err := tx.Release(ctx, byStudent.ID, now); err != nil {
				return err
			}
			released = append(released, byStudent.ID)
		}

		// Releases must be visible before the insert is checked against the
		// active-assignment indexes.
		if err := tx.Flush(ctx); err != nil {
			return err
		}

		created, err = s.link(ctx, tx, req)
		return err
	})
	err = fromUniqueViolation(err, req.TokenUID)
	s.observe("reassign", err)
	if err != nil {
		return model.Assignment{}, err
	}

	s.log.Info("token reassigned",
		zap.String("token_uid", created.TokenUID),
		zap.Stringer("student_id", created.StudentID),
		zap.Stringer("trip_id", created.TripID),
		zap.Int64s("released", released),
		zap.String("justification", justification),
	)
	return created, nil
}

// link inserts the assignment and mirrors it onto the token stock.
func (s *Service) link(ctx context.Context, tx Tx, req Request) (model.Assignment, error) {
	now := s.now()
	a, err := tx.Insert(ctx, model.Assignment{
		TokenUID:   req.TokenUID,
		StudentID:  req.StudentID,
		TripID:     req.TripID,
		Kind:       req.Kind,
		AssignedAt: now,
	})
	if err != nil {
		return model.Assignment{}, err
	}
	if err := tx.MarkTokenAssigned(ctx, req.TokenUID, now); err != nil {
		return model.Assignment{}, err
	}
	return a, nil
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	var be *Error
	switch {
	case err == nil:
	case errors.As(err, &be):
		outcome = strings.ToLower(string(be.Code))
	case errors.Is(err, ErrInvalidRequest):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	s.metrics.ObserveAssignment(op, outcome)
}

// Status returns participant counts and the active assignments of a trip.
func (s *Service) Status(ctx context.Context, tripID uuid.UUID) (Status, error) {
	total, err := s.repo.CountParticipants(ctx, tripID)
	if err != nil {
		return Status{}, err
	}
	active, err := s.repo.ListActive(ctx, tripID)
	if err != nil {
		return Status{}, err
	}
	if active == nil {
		active = []model.Assignment{}
	}
	return Status{
		TripID:             tripID,
		TotalStudents:      total,
		AssignedStudents:   len(active),
		UnassignedStudents: total - len(active),
		Assignments:        active,
	}, nil
}

// TripStudents returns every participant with its active token.
func (s *Service) TripStudents(ctx context.Context, tripID uuid.UUID) (TripStudents, error) {
	rows, err := s.repo.ListTripStudents(ctx, tripID)
	if err != nil {
		return TripStudents{}, err
	}
	if rows == nil {
		rows = []TripStudent{}
	}
	assigned := 0
	for _, r := range rows {
		if r.TokenUID != nil {
			assigned++
		}
	}
	return TripStudents{
		TripID:     tripID,
		Total:      len(rows),
		Assigned:   assigned,
		Unassigned: len(rows) - assigned,
		Students:   rows,
	}, nil
}

// ReleaseAllForTrip releases every active assignment of a trip and returns
// how many were released. A second call returns 0.
func (s *Service) ReleaseAllForTrip(ctx context.Context, tripID uuid.UUID) (int, error) {
	n, err := s.repo.ReleaseAllForTrip(ctx, tripID, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.AddReleased(n)
		s.log.Info("trip tokens released", zap.Stringer("trip_id", tripID), zap.Int("count", n))
	}
	return n, nil
}

// ExportCSV writes the active assignments of a trip as a semicolon separated
// file prefixed with a UTF-8 byte order mark.
func (s *Service) ExportCSV(ctx context.Context, tripID uuid.UUID, w io.Writer) error {
	active, err := s.repo.ListActive(ctx, tripID)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, csvBOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, a := range active {
		record := []string{a.TokenUID, a.StudentID.String(), string(a.Kind), a.AssignedAt.Format(csvTimeLayout)}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RegisterToken adds a physical token to the stock. Registering an existing
// uid returns the stored token unchanged.
func (s *Service) RegisterToken(ctx context.Context, uid string, kind model.AssignmentKind) (model.Token, bool, error) {
	uid = model.NormalizeTokenUID(uid)
	if uid == "" {
		return model.Token{}, false, fmt.Errorf("%w: token uid must not be empty", ErrInvalidRequest)
	}
	if kind == model.KindQRDigital {
		return model.Token{}, false, ErrDigitalStock
	}
	if !kind.Physical() {
		return model.Token{}, false, fmt.Errorf("%w: unknown token type %q", ErrInvalidRequest, kind)
	}
	t, created, err := s.repo.RegisterToken(ctx, model.Token{
		UID:       uid,
		Kind:      kind,
		Status:    model.TokenAvailable,
		CreatedAt: s.now(),
	})
	if err != nil {
		return model.Token{}, false, err
	}
	if created {
		s.log.Debug("token registered", zap.String("token_uid", uid), zap.String("token_type", string(kind)))
	}
	return t, created, nil
}

// ListTokens returns the registered stock.
func (s *Service) ListTokens(ctx context.Context) ([]model.Token, error) {
	return s.repo.ListTokens(ctx)
}
