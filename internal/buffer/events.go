package buffer

import (
	"sync/atomic"

	"github.com/sensor-relay/backend/internal/model"
)

// EventBuffer keeps the newest device events in memory for the HTTP API.
type EventBuffer struct {
	ring   *RingBuffer[model.DeviceEvent]
	nextID atomic.Int64
}

// NewEventBuffer creates an EventBuffer holding up to capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{ring: NewRingBuffer[model.DeviceEvent](capacity)}
}

// Record stores ev. Events without an id get a process-local sequence number.
func (b *EventBuffer) Record(ev model.DeviceEvent) {
	if ev.ID == 0 {
		ev.ID = b.nextID.Add(1)
	}
	b.ring.Push(ev)
}

// Recent returns up to limit events, newest first. A non-positive limit
// returns everything buffered.
func (b *EventBuffer) Recent(limit int) []model.DeviceEvent {
	if limit <= 0 {
		limit = b.ring.Cap()
	}
	events := b.ring.Last(limit)
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int {
	return b.ring.Len()
}
