package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"schooltrack/internal/model"
)

// ClientUUIDExists reports whether a scan with this idempotency key was committed.
func (r *Repository) ClientUUIDExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM attendances WHERE client_uuid = $1)`, id).Scan(&ok)
	return ok, err
}

// InsertBatch writes every row in a single transaction and activates the
// DRAFT checkpoints the batch touches.
func (r *Repository) InsertBatch(ctx context.Context, rows []model.Attendance) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO attendances (id, client_uuid, trip_id, checkpoint_id, student_id, assignment_id,
				scanned_at, scan_method, scan_sequence, is_manual, justification, comment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		firstScan := make(map[uuid.UUID]time.Time)
		for _, a := range rows {
			if _, err := stmt.ExecContext(ctx, a.ID, a.ClientUUID, a.TripID, a.CheckpointID, a.StudentID, a.AssignmentID,
				a.ScannedAt, a.ScanMethod, a.ScanSequence, a.IsManual, a.Justification, a.Comment, a.CreatedAt); err != nil {
				return err
			}
			if at, ok := firstScan[a.CheckpointID]; !ok || a.ScannedAt.Before(at) {
				firstScan[a.CheckpointID] = a.ScannedAt
			}
		}
		for id, at := range firstScan {
			if _, err := tx.ExecContext(ctx, `
				UPDATE checkpoints SET status = $2, started_at = $3 WHERE id = $1 AND status = $4
			`, id, model.CheckpointActive, at, model.CheckpointDraft); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertSyncLog records a committed sync batch.
func (r *Repository) InsertSyncLog(ctx context.Context, entry model.SyncLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_logs (device_id, received, inserted, duplicates, synced_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.DeviceID, entry.Received, entry.Inserted, entry.Duplicates, entry.SyncedAt)
	return err
}

// SyncLogs returns the recorded sync batches, most recent first. An empty
// deviceID returns every device.
func (r *Repository) SyncLogs(ctx context.Context, deviceID string) ([]model.SyncLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, received, inserted, duplicates, synced_at FROM sync_logs
		WHERE $1 = '' OR device_id = $1
		ORDER BY synced_at DESC
		LIMIT 200
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SyncLog
	for rows.Next() {
		var l model.SyncLog
		if err := rows.Scan(&l.DeviceID, &l.Received, &l.Inserted, &l.Duplicates, &l.SyncedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
