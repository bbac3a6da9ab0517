package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"schooltrack/internal/model"
)

func (r *Repository) InsertStudent(ctx context.Context, st model.Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, first_name, last_name, email, created_at) VALUES ($1, $2, $3, $4, $5)
	`, st.ID, st.FirstName, st.LastName, st.Email, st.CreatedAt)
	return translate(err)
}

func scanStudent(row interface{ Scan(...any) error }) (model.Student, error) {
	var (
		st    model.Student
		email sql.NullString
	)
	if err := row.Scan(&st.ID, &st.FirstName, &st.LastName, &email, &st.CreatedAt); err != nil {
		return model.Student{}, translate(err)
	}
	st.Email = nullString(email)
	return st, nil
}

func (r *Repository) GetStudent(ctx context.Context, id uuid.UUID) (model.Student, error) {
	return scanStudent(r.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, created_at FROM students WHERE id = $1
	`, id))
}

func (r *Repository) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, email, created_at FROM students ORDER BY last_name, first_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *Repository) InsertClass(ctx context.Context, c model.Class) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classes (id, name, year, created_at) VALUES ($1, $2, $3, $4)
	`, c.ID, c.Name, c.Year, c.CreatedAt)
	return translate(err)
}

func scanClass(row interface{ Scan(...any) error }) (model.Class, error) {
	var (
		c    model.Class
		year sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &year, &c.CreatedAt); err != nil {
		return model.Class{}, translate(err)
	}
	c.Year = nullString(year)
	return c, nil
}

func (r *Repository) GetClass(ctx context.Context, id uuid.UUID) (model.Class, error) {
	return scanClass(r.db.QueryRowContext(ctx, `SELECT id, name, year, created_at FROM classes WHERE id = $1`, id))
}

func (r *Repository) ListClasses(ctx context.Context) ([]model.Class, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, year, created_at FROM classes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Enroll adds students to a class, skipping existing memberships.
func (r *Repository) Enroll(ctx context.Context, classID uuid.UUID, studentIDs []uuid.UUID) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO class_students (class_id, student_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING
	`, classID, uuidStrings(studentIDs))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UpsertDevice records a device id.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id) VALUES ($1) ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, device_id, expires_at) VALUES ($1, $2, $3)
	`, token, deviceID, expiresAt)
	return translate(err)
}

// ConsumeRefreshToken revokes a live token and reports whether it was live.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, deviceID, token string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND device_id = $2 AND NOT revoked AND expires_at > $3
	`, token, deviceID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
