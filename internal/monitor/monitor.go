// Package monitor evicts devices that stop reporting and notifies the clients
// that were following them.
package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sensor-relay/backend/internal/registry"
)

// Notifier is told about every device removed by a sweep.
type Notifier interface {
	NotifyEvicted(ev registry.Eviction)
}

// Config holds the sweep period and the device liveness window. Interval
// must be shorter than Timeout so a device misses at least one heartbeat
// before it is evicted.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Monitor periodically sweeps the registry for stale devices.
type Monitor struct {
	registry *registry.Registry
	notifier Notifier
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor. It does nothing until Start is called.
func New(reg *registry.Registry, notifier Notifier, cfg Config, log zerolog.Logger) (*Monitor, error) {
	if cfg.Interval <= 0 || cfg.Timeout <= 0 {
		return nil, fmt.Errorf("monitor: interval and timeout must be positive")
	}
	if cfg.Interval >= cfg.Timeout {
		return nil, fmt.Errorf("monitor: interval %s must be shorter than timeout %s", cfg.Interval, cfg.Timeout)
	}
	return &Monitor{
		registry: reg,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}, nil
}

// Start launches the sweep loop. It stops when ctx is cancelled or Stop is
// called. Calling Start on a running Monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Stop halts the sweep loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	// A cancelled parent context leaves the Monitor ready to Start again.
	defer m.release(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info().
		Dur("interval", m.cfg.Interval).
		Dur("timeout", m.cfg.Timeout).
		Msg("liveness monitor started")

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("liveness monitor stopped")
			return
		case <-ticker.C:
			m.SweepOnce(m.now())
		}
	}
}

func (m *Monitor) release(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != done {
		return
	}
	m.cancel()
	m.cancel, m.done = nil, nil
}

func (m *Monitor) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// SweepOnce evicts devices stale at now and notifies their subscribers. A
// failing notification is logged and the remaining evictions still run.
func (m *Monitor) SweepOnce(now time.Time) []registry.Eviction {
	evicted := m.registry.Sweep(now, m.cfg.Timeout)
	for _, ev := range evicted {
		m.notify(ev)
	}
	if len(evicted) > 0 {
		m.log.Info().Int("evicted", len(evicted)).Msg("stale devices removed")
	}
	return evicted
}

func (m *Monitor) notify(ev registry.Eviction) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("chip_id", ev.ChipID).
				Msg("eviction notification failed")
		}
	}()
	m.notifier.NotifyEvicted(ev)
}
