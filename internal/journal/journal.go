// Package journal writes device events to the SQLite audit trail without
// slowing down the relay.
package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sensor-relay/backend/internal/model"
	"github.com/sensor-relay/backend/internal/repository"
)

const (
	defaultQueueSize  = 1024
	defaultPruneEvery = time.Hour
	// drainTimeout bounds the final flush once Run's context is cancelled.
	drainTimeout = 5 * time.Second
)

// Config controls queueing and retention.
type Config struct {
	QueueSize int
	// Retention is how long events are kept. Zero keeps them forever.
	Retention  time.Duration
	PruneEvery time.Duration
}

// Journal is a relay.EventSink backed by an EventRepository.
type Journal struct {
	repo    *repository.EventRepository
	queue   chan model.DeviceEvent
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
	dropped atomic.Int64
	written atomic.Int64
}

// New creates a Journal. Nothing is written until Run is called.
func New(repo *repository.EventRepository, cfg Config, log zerolog.Logger) *Journal {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PruneEvery <= 0 {
		cfg.PruneEvery = defaultPruneEvery
	}
	return &Journal{
		repo:  repo,
		queue: make(chan model.DeviceEvent, cfg.QueueSize),
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Record queues ev for writing. When the queue is full the event is dropped
// and counted.
func (j *Journal) Record(ev model.DeviceEvent) {
	select {
	case j.queue <- ev:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.log.Warn().Int64("dropped", n).Str("chip_id", ev.ChipID).Msg("journal queue full, dropping event")
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Written returns how many events were stored.
func (j *Journal) Written() int64 {
	return j.written.Load()
}

// Repository returns the underlying store for read queries.
func (j *Journal) Repository() *repository.EventRepository {
	return j.repo
}

// Run writes queued events until ctx is cancelled, then flushes whatever is
// still queued. It also prunes expired events every PruneEvery.
func (j *Journal) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.PruneEvery)
	defer ticker.Stop()

	j.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			j.drain()
			return
		case ev := <-j.queue:
			j.write(ctx, ev)
		case <-ticker.C:
			j.prune(ctx)
		}
	}
}

func (j *Journal) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-j.queue:
			j.write(ctx, ev)
		default:
			j.log.Info().Int64("written", j.Written()).Int64("dropped", j.Dropped()).Msg("journal stopped")
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, ev model.DeviceEvent) {
	if _, err := j.repo.Insert(ctx, ev); err != nil {
		j.log.Error().Err(err).Str("chip_id", ev.ChipID).Str("kind", string(ev.Kind)).Msg("failed to journal event")
		return
	}
	j.written.Add(1)
}

func (j *Journal) prune(ctx context.Context) {
	if j.cfg.Retention <= 0 {
		return
	}
	removed, err := j.repo.DeleteBefore(ctx, j.now().Add(-j.cfg.Retention))
	if err != nil {
		j.log.Error().Err(err).Msg("failed to prune journal")
		return
	}
	if removed > 0 {
		j.log.Info().Int64("removed", removed).Dur("retention", j.cfg.Retention).Msg("journal pruned")
	}
}
