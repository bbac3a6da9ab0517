package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"schooltrack/internal/assignment"
	"schooltrack/internal/model"
)

type pendingRelease struct {
	id int64
	at time.Time
}

type assignmentTx struct {
	tx      *sql.Tx
	pending []pendingRelease
}

// WithinTx runs fn in a database transaction. Staged releases are flushed
// before commit.
func (r *Repository) WithinTx(ctx context.Context, fn func(assignment.Tx) error) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		atx := &assignmentTx{tx: tx}
		if err := fn(atx); err != nil {
			return err
		}
		return atx.Flush(ctx)
	})
}

func (t *assignmentTx) IsParticipant(ctx context.Context, tripID, studentID uuid.UUID) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM trip_students WHERE trip_id = $1 AND student_id = $2)
	`, tripID, studentID).Scan(&ok)
	return ok, err
}

const assignmentColumns = `id, token_uid, student_id, trip_id, assignment_type, assigned_at, released_at`

func scanAssignment(row interface{ Scan(...any) error }) (model.Assignment, error) {
	var (
		a        model.Assignment
		released sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TokenUID, &a.StudentID, &a.TripID, &a.Kind, &a.AssignedAt, &released); err != nil {
		return model.Assignment{}, err
	}
	if released.Valid {
		at := released.Time
		a.ReleasedAt = &at
	}
	return a, nil
}

// activeOne locks the matching active row so concurrent reassignments queue.
func (t *assignmentTx) activeOne(ctx context.Context, where string, args ...any) (*model.Assignment, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments
		WHERE released_at IS NULL AND `+where+` FOR UPDATE`, args...)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *assignmentTx) ActiveForToken(ctx context.Context, tripID uuid.UUID, tokenUID string) (*model.Assignment, error) {
	return t.activeOne(ctx, `trip_id = $1 AND token_uid = $2`, tripID, tokenUID)
}

func (t *assignmentTx) ActiveForStudent(ctx context.Context, tripID, studentID uuid.UUID) (*model.Assignment, error) {
	return t.activeOne(ctx, `trip_id = $1 AND student_id = $2`, tripID, studentID)
}

func (t *assignmentTx) Release(_ context.Context, id int64, at time.Time) error {
	t.pending = append(t.pending, pendingRelease{id: id, at: at})
	return nil
}

func (t *assignmentTx) Flush(ctx context.Context) error {
	for _, p := range t.pending {
		res, err := t.tx.ExecContext(ctx, `
			UPDATE assignments SET released_at = $2 WHERE id = $1 AND released_at IS NULL
		`, p.id, p.at)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			var exists bool
			if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM assignments WHERE id = $1)`, p.id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return model.ErrNotFound
			}
		}
	}
	t.pending = t.pending[:0]
	return nil
}

func (t *assignmentTx) Insert(ctx context.Context, a model.Assignment) (model.Assignment, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO assignments (token_uid, student_id, trip_id, assignment_type, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, a.TokenUID, a.StudentID, a.TripID, a.Kind, a.AssignedAt).Scan(&a.ID)
	if err != nil {
		return model.Assignment{}, translate(err)
	}
	a.ReleasedAt = nil
	return a, nil
}

func (t *assignmentTx) MarkTokenAssigned(ctx context.Context, uid string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE tokens SET status = $2, last_assigned_at = $3 WHERE token_uid = $1
	`, uid, model.TokenAssigned, at)
	return err
}

// CountParticipants returns the number of students enrolled in a trip.
func (r *Repository) CountParticipants(ctx context.Context, tripID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trip_students WHERE trip_id = $1`, tripID).Scan(&n)
	return n, err
}

// ListActive returns the active assignments of a trip by assignment time.
func (r *Repository) ListActive(ctx context.Context, tripID uuid.UUID) ([]model.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+assignmentColumns+` FROM assignments
		WHERE trip_id = $1 AND released_at IS NULL
		ORDER BY assigned_at, id`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReleaseAllForTrip releases every active assignment of a trip in one statement.
func (r *Repository) ReleaseAllForTrip(ctx context.Context, tripID uuid.UUID, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE assignments SET released_at = $2 WHERE trip_id = $1 AND released_at IS NULL
	`, tripID, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListTripStudents returns participants with their active assignment.
func (r *Repository) ListTripStudents(ctx context.Context, tripID uuid.UUID) ([]assignment.TripStudent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.first_name, s.last_name, s.email, a.token_uid, a.assignment_type, a.assigned_at
		FROM trip_students ts
		JOIN students s ON s.id = ts.student_id
		LEFT JOIN assignments a
			ON a.student_id = s.id AND a.trip_id = ts.trip_id AND a.released_at IS NULL
		WHERE ts.trip_id = $1
		ORDER BY s.last_name, s.first_name
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []assignment.TripStudent
	for rows.Next() {
		var (
			ts    assignment.TripStudent
			email sql.NullString
			uid   sql.NullString
			kind  sql.NullString
			at    sql.NullTime
		)
		if err := rows.Scan(&ts.ID, &ts.FirstName, &ts.LastName, &email, &uid, &kind, &at); err != nil {
			return nil, err
		}
		ts.Email = nullString(email)
		if uid.Valid {
			k := model.AssignmentKind(kind.String)
			assigned := at.Time
			ts.TokenUID, ts.Kind, ts.AssignedAt = &uid.String, &k, &assigned
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// RegisterToken inserts a stock token unless the uid already exists.
func (r *Repository) RegisterToken(ctx context.Context, tok model.Token) (model.Token, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tokens (token_uid, token_type, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_uid) DO NOTHING
	`, tok.UID, tok.Kind, tok.Status, tok.CreatedAt)
	if err != nil {
		return model.Token{}, false, translate(err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return tok, true, nil
	}
	cur, err := scanToken(r.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE token_uid = $1`, tok.UID))
	if err != nil {
		return model.Token{}, false, translate(err)
	}
	return cur, false, nil
}

const tokenColumns = `token_uid, token_type, status, created_at, last_assigned_at`

func scanToken(row interface{ Scan(...any) error }) (model.Token, error) {
	var (
		t    model.Token
		last sql.NullTime
	)
	if err := row.Scan(&t.UID, &t.Kind, &t.Status, &t.CreatedAt, &last); err != nil {
		return model.Token{}, err
	}
	if last.Valid {
		at := last.Time
		t.LastAssignedAt = &at
	}
	return t, nil
}

// ListTokens returns the stock ordered by uid.
func (r *Repository) ListTokens(ctx context.Context) ([]model.Token, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tokenColumns+` FROM tokens ORDER BY token_uid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
