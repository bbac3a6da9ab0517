package queue

import (
	"context"

	"go.uber.org/zap"

	"schooltrack/internal/model"
)

// SyncLogSink persists sync batch records.
type SyncLogSink interface {
	InsertSyncLog(ctx context.Context, entry model.SyncLog) error
}

// RunSyncLogConsumer drains sync.completed messages into sink until ctx is
// cancelled. Messages of other types are skipped.
func RunSyncLogConsumer(ctx context.Context, q Queue, sink SyncLogSink, log *zap.Logger) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	log.Info("sync log consumer started")
	for msg := range messages {
		if msg.Type != TypeSyncCompleted {
			log.Debug("skipping message", zap.String("type", msg.Type))
			continue
		}
		entry, err := DecodeSyncLog(msg)
		if err != nil {
			log.Warn("bad sync.completed message", zap.Error(err))
			continue
		}
		if err := sink.InsertSyncLog(ctx, entry); err != nil {
			log.Error("record sync log failed", zap.String("device_id", entry.DeviceID), zap.Error(err))
			continue
		}
		log.Debug("sync log recorded",
			zap.String("device_id", entry.DeviceID),
			zap.Int("inserted", entry.Inserted),
			zap.Int("duplicates", entry.Duplicates),
		)
	}
	log.Info("sync log consumer stopped")
	return ctx.Err()
}
