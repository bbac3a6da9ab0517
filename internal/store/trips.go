package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"schooltrack/internal/model"
	"schooltrack/internal/trip"
)

type tripTx struct {
	tx *sql.Tx
}

// TripsWithinTx runs fn in a database transaction.
func (r *Repository) TripsWithinTx(ctx context.Context, fn func(trip.Tx) error) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&tripTx{tx: tx})
	})
}

const tripColumns = `id, destination, date, description, status, created_at, updated_at`

func scanTrip(row interface{ Scan(...any) error }) (model.Trip, error) {
	var (
		t    model.Trip
		desc sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Destination, &t.Date, &desc, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return model.Trip{}, translate(err)
	}
	t.Description = nullString(desc)
	return t, nil
}

// GetTrip locks the trip row for the rest of the transaction so checkpoint
// numbering and status changes on one trip are serialised.
func (t *tripTx) GetTrip(ctx context.Context, id uuid.UUID) (model.Trip, error) {
	return scanTrip(t.tx.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1 FOR UPDATE`, id))
}

func (t *tripTx) InsertTrip(ctx context.Context, tr model.Trip) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO trips (id, destination, date, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tr.ID, tr.Destination, tr.Date, tr.Description, tr.Status, tr.CreatedAt, tr.UpdatedAt)
	return err
}

func (t *tripTx) UpdateTrip(ctx context.Context, tr model.Trip) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE trips SET destination = $2, date = $3, description = $4, status = $5, updated_at = $6
		WHERE id = $1
	`, tr.ID, tr.Destination, tr.Date, tr.Description, tr.Status, tr.UpdatedAt)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *tripTx) StudentsOfClasses(ctx context.Context, classIDs []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT student_id FROM class_students WHERE class_id = ANY($1)
	`, uuidStrings(classIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *tripTx) ReplaceParticipants(ctx context.Context, tripID uuid.UUID, studentIDs []uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM trip_students WHERE trip_id = $1`, tripID); err != nil {
		return err
	}
	if len(studentIDs) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO trip_students (trip_id, student_id)
		SELECT $1, unnest($2::uuid[])
	`, tripID, uuidStrings(studentIDs))
	return err
}

func (t *tripTx) MaxCheckpointOrder(ctx context.Context, tripID uuid.UUID) (int, error) {
	var max int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_order), 0) FROM checkpoints WHERE trip_id = $1
	`, tripID).Scan(&max)
	return max, err
}

func (t *tripTx) InsertCheckpoint(ctx context.Context, c model.Checkpoint) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, trip_id, name, description, sequence_order, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.TripID, c.Name, c.Description, c.SequenceOrder, c.Status, c.CreatedAt)
	return err
}

const checkpointColumns = `id, trip_id, name, description, sequence_order, status, created_at, started_at, closed_at`

func scanCheckpoint(row interface{ Scan(...any) error }) (model.Checkpoint, error) {
	var (
		c               model.Checkpoint
		desc            sql.NullString
		started, closed sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.TripID, &c.Name, &desc, &c.SequenceOrder, &c.Status, &c.CreatedAt, &started, &closed); err != nil {
		return model.Checkpoint{}, translate(err)
	}
	c.Description = nullString(desc)
	c.StartedAt = nullTime(started)
	c.ClosedAt = nullTime(closed)
	return c, nil
}

func (t *tripTx) GetCheckpoint(ctx context.Context, id uuid.UUID) (model.Checkpoint, error) {
	return scanCheckpoint(t.tx.QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE id = $1 FOR UPDATE`, id))
}

func (t *tripTx) UpdateCheckpoint(ctx context.Context, c model.Checkpoint) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE checkpoints SET name = $2, description = $3, status = $4, started_at = $5, closed_at = $6
		WHERE id = $1
	`, c.ID, c.Name, c.Description, c.Status, c.StartedAt, c.ClosedAt)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// GetTrip returns a committed trip.
func (r *Repository) GetTrip(ctx context.Context, id uuid.UUID) (model.Trip, error) {
	return scanTrip(r.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id))
}

// ListTrips returns non-archived trips, most recent date first.
func (r *Repository) ListTrips(ctx context.Context) ([]model.Trip, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tripColumns+` FROM trips
		WHERE status <> $1 ORDER BY date DESC, created_at DESC`, model.TripArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListCheckpoints returns non-archived checkpoints of a trip by sequence.
func (r *Repository) ListCheckpoints(ctx context.Context, tripID uuid.UUID) ([]model.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints
		WHERE trip_id = $1 AND status <> $2 ORDER BY sequence_order`, tripID, model.CheckpointArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConcludedTripsWithActiveAssignments lists concluded trips still holding tokens.
func (r *Repository) ConcludedTripsWithActiveAssignments(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT t.id FROM trips t
		JOIN assignments a ON a.trip_id = t.id AND a.released_at IS NULL
		WHERE t.status IN ($1, $2)
	`, model.TripCompleted, model.TripArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// uuidStrings renders ids as a text array pgx can bind to uuid[].
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
