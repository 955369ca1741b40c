package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensor-relay/backend/internal/logger"
	"github.com/sensor-relay/backend/internal/registry"
)

type recordingNotifier struct {
	mu      sync.Mutex
	evicted []registry.Eviction
	panicOn string
}

func (n *recordingNotifier) NotifyEvicted(ev registry.Eviction) {
	if ev.ChipID == n.panicOn {
		panic("notifier failure")
	}
	n.mu.Lock()
	n.evicted = append(n.evicted, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.evicted)
}

var testConfig = Config{Interval: 30 * time.Second, Timeout: 60 * time.Second}

func TestNewValidatesConfig(t *testing.T) {
	reg := registry.New()
	n := &recordingNotifier{}

	_, err := New(reg, n, Config{Interval: time.Minute, Timeout: time.Minute}, logger.NewTestLogger())
	assert.Error(t, err)

	_, err = New(reg, n, Config{Interval: 0, Timeout: time.Minute}, logger.NewTestLogger())
	assert.Error(t, err)

	m, err := New(reg, n, testConfig, logger.NewTestLogger())
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestSweepOnceEvictsAndNotifies(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := start
	reg := registry.New(registry.WithClock(func() time.Time { return clock }))

	reg.RegisterDevice("stale", "c-stale")
	_, err := reg.RegisterClient("watcher", []string{"stale"})
	require.NoError(t, err)

	clock = start.Add(50 * time.Second)
	reg.RegisterDevice("fresh", "c-fresh")

	n := &recordingNotifier{}
	m, err := New(reg, n, testConfig, logger.NewTestLogger())
	require.NoError(t, err)

	// One missed heartbeat period is tolerated.
	assert.Empty(t, m.SweepOnce(start.Add(30*time.Second)))

	evicted := m.SweepOnce(start.Add(61 * time.Second))
	require.Len(t, evicted, 1)
	assert.Equal(t, "stale", evicted[0].ChipID)
	assert.Equal(t, []string{"watcher"}, evicted[0].Subscribers)
	assert.Equal(t, 1, n.count())

	// A second sweep does not notify again.
	assert.Empty(t, m.SweepOnce(start.Add(62*time.Second)))
	assert.Equal(t, 1, n.count())

	_, ok := reg.Subscription("watcher")
	assert.True(t, ok, "subscriptions survive eviction")
}

func TestSweepContinuesAfterNotifierPanic(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	reg := registry.New(registry.WithClock(func() time.Time { return start }))
	reg.RegisterDevice("a", "1")
	reg.RegisterDevice("b", "2")
	reg.RegisterDevice("c", "3")

	n := &recordingNotifier{panicOn: "b"}
	m, err := New(reg, n, testConfig, logger.NewTestLogger())
	require.NoError(t, err)

	evicted := m.SweepOnce(start.Add(2 * time.Minute))
	assert.Len(t, evicted, 3)
	assert.Equal(t, 2, n.count())
	assert.Equal(t, 0, reg.Stats().Devices)
}

func TestStartStopLifecycle(t *testing.T) {
	reg := registry.New(registry.WithClock(func() time.Time {
		return time.Now().Add(-time.Hour)
	}))
	reg.RegisterDevice("old", "conn")

	n := &recordingNotifier{}
	m, err := New(reg, n, Config{Interval: 10 * time.Millisecond, Timeout: time.Minute}, logger.NewTestLogger())
	require.NoError(t, err)

	m.Start(context.Background())
	m.Start(context.Background())

	require.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestStopsWithContext(t *testing.T) {
	m, err := New(registry.New(), &recordingNotifier{}, Config{Interval: 5 * time.Millisecond, Timeout: time.Second}, logger.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return !m.running() }, time.Second, 5*time.Millisecond)
	m.Stop()
}

func TestRestartAfterContextCancelled(t *testing.T) {
	reg := registry.New(registry.WithClock(func() time.Time {
		return time.Now().Add(-time.Hour)
	}))
	n := &recordingNotifier{}
	m, err := New(reg, n, Config{Interval: 5 * time.Millisecond, Timeout: time.Minute}, logger.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	require.Eventually(t, func() bool { return !m.running() }, time.Second, 5*time.Millisecond)

	reg.RegisterDevice("stale", "conn")
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 5*time.Millisecond)
}
