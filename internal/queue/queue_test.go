package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schooltrack/internal/model"
)

type memorySink struct {
	mu      sync.Mutex
	entries []model.SyncLog
	fail    bool
	done    chan struct{}
}

func (s *memorySink) InsertSyncLog(_ context.Context, entry model.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.done <- struct{}{} }()
	if s.fail {
		s.fail = false
		return errors.New("db down")
	}
	s.entries = append(s.entries, entry)
	return nil
}

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(2)
	require.NoError(t, q.Publish(ctx, Message{Type: "a"}))
	require.NoError(t, q.Publish(ctx, Message{Type: "b"}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", (<-msgs).Type)
	assert.Equal(t, "b", (<-msgs).Type)

	cancel()
	_, open := <-msgs
	assert.False(t, open)
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "b"}), context.DeadlineExceeded)
}

func TestSyncNotifierRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := NewInMemory(1)
	entry := model.SyncLog{
		DeviceID:   "tablet-3",
		Received:   4,
		Inserted:   3,
		Duplicates: 1,
		SyncedAt:   time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, NewSyncNotifier(q).SyncCompleted(ctx, entry))

	msg := <-q.ch
	assert.Equal(t, TypeSyncCompleted, msg.Type)
	got, err := DecodeSyncLog(msg)
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	_, err = DecodeSyncLog(Message{Type: "other"})
	assert.Error(t, err)
}

func TestRunSyncLogConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(8)
	sink := &memorySink{fail: true, done: make(chan struct{}, 8)}
	n := NewSyncNotifier(q)

	// The first entry hits a sink failure and is dropped; the others land.
	require.NoError(t, n.SyncCompleted(ctx, model.SyncLog{DeviceID: "lost"}))
	require.NoError(t, q.Publish(ctx, Message{Type: "something.else"}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeSyncCompleted, Body: []byte("{")}))
	require.NoError(t, n.SyncCompleted(ctx, model.SyncLog{DeviceID: "tablet-1", Inserted: 2}))
	require.NoError(t, n.SyncCompleted(ctx, model.SyncLog{DeviceID: "tablet-2", Inserted: 5}))

	errc := make(chan error, 1)
	go func() { errc <- RunSyncLogConsumer(ctx, q, sink, zap.NewNop()) }()

	for i := 0; i < 3; i++ {
		select {
		case <-sink.done:
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not drain the queue")
		}
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.entries, 2)
	assert.Equal(t, "tablet-1", sink.entries[0].DeviceID)
	assert.Equal(t, 5, sink.entries[1].Inserted)
}
