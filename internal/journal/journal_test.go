package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensor-relay/backend/internal/db"
	"github.com/sensor-relay/backend/internal/logger"
	"github.com/sensor-relay/backend/internal/model"
	"github.com/sensor-relay/backend/internal/repository"
)

func newTestRepo(t *testing.T) *repository.EventRepository {
	t.Helper()
	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })
	return repository.NewEventRepository(testDB)
}

func TestRecordDropsWhenFull(t *testing.T) {
	j := New(newTestRepo(t), Config{QueueSize: 2}, logger.NewTestLogger())

	for i := 0; i < 5; i++ {
		j.Record(model.DeviceEvent{ChipID: "c", Kind: model.EventStatus, At: time.Now()})
	}
	assert.Equal(t, int64(3), j.Dropped())
}

func TestRunWritesAndDrains(t *testing.T) {
	repo := newTestRepo(t)
	j := New(repo, Config{QueueSize: 16}, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	j.Record(model.DeviceEvent{ChipID: "esp01", Kind: model.EventRegistered, At: time.Now()})
	require.Eventually(t, func() bool { return j.Written() == 1 }, time.Second, 5*time.Millisecond)

	// Events still queued at shutdown are flushed.
	cancel()
	<-done
	j.Record(model.DeviceEvent{ChipID: "esp01", Kind: model.EventDisconnected, At: time.Now()})
	j.drain()

	events, err := repo.ListByChip(context.Background(), "esp01", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventDisconnected, events[0].Kind)
	assert.Equal(t, int64(0), j.Dropped())
}

func TestPruneRemovesExpired(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := repo.Insert(ctx, model.DeviceEvent{ChipID: "old", Kind: model.EventStatus, At: now.Add(-48 * time.Hour)})
	require.NoError(t, err)
	_, err = repo.Insert(ctx, model.DeviceEvent{ChipID: "new", Kind: model.EventStatus, At: now.Add(-time.Hour)})
	require.NoError(t, err)

	j := New(repo, Config{Retention: 24 * time.Hour}, logger.NewTestLogger())
	j.now = func() time.Time { return now }
	j.prune(ctx)

	events, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].ChipID)
}

func TestPruneDisabledWithoutRetention(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.Insert(ctx, model.DeviceEvent{ChipID: "old", Kind: model.EventStatus, At: time.Unix(0, 0)})
	require.NoError(t, err)

	New(repo, Config{}, logger.NewTestLogger()).prune(ctx)

	events, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
