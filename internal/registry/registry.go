// Package registry holds the in-memory map of live devices and client
// subscriptions shared by every connection.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sensor-relay/backend/internal/model"
)

// Eviction describes a device removed from the registry together with the
// client connections that were subscribed to it at the time of removal.
type Eviction struct {
	ChipID       string
	ConnectionID string
	Subscribers  []string
}

// Stats is a point-in-time count of registry entries.
type Stats struct {
	Devices int `json:"devices"`
	Clients int `json:"clients"`
}

// Registry maps chip ids to device records and connection ids to client
// subscriptions. A single mutex serialises every compound mutation.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*model.DeviceRecord
	clients map[string]*model.ClientSubscription
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the time source used to stamp lastSeen.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		devices: make(map[string]*model.DeviceRecord),
		clients: make(map[string]*model.ClientSubscription),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterDevice inserts or takes over the record for chipID. A device that
// reconnects keeps its last reported relay and PIR status.
func (r *Registry) RegisterDevice(chipID, connectionID string) model.DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.devices[chipID]
	if !ok {
		rec = &model.DeviceRecord{
			ChipID:       chipID,
			RegisteredAt: now,
		}
		r.devices[chipID] = rec
	}
	rec.ConnectionID = connectionID
	touch(rec, now)
	return *rec
}

// RegisterClient replaces the subscription of connectionID and returns a
// snapshot of every requested device that is currently registered. Unknown
// chip ids are omitted. A nil list is rejected.
func (r *Registry) RegisterClient(connectionID string, chipIDs []string) ([]model.DeviceSnapshot, error) {
	if chipIDs == nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidRequest, model.ErrChipIDsNotList)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sub := model.NewClientSubscription(connectionID, chipIDs)
	r.clients[connectionID] = sub

	snapshots := make([]model.DeviceSnapshot, 0, len(sub.ChipIDs))
	seen := make(map[string]struct{}, len(chipIDs))
	for _, id := range chipIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if rec, ok := r.devices[id]; ok {
			snapshots = append(snapshots, rec.Snapshot())
		}
	}
	return snapshots, nil
}

// UpdateDeviceStatus merges the provided statuses into the record for chipID
// and refreshes lastSeen. Nil fields are left unchanged. It returns false when
// the device is unknown.
func (r *Registry) UpdateDeviceStatus(chipID string, relayStatus, pirStatus *bool) (model.DeviceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[chipID]
	if !ok {
		return model.DeviceRecord{}, false
	}
	if relayStatus != nil {
		rec.RelayStatus = *relayStatus
	}
	if pirStatus != nil {
		rec.PirStatus = *pirStatus
	}
	touch(rec, r.now())
	return *rec, true
}

// Touch refreshes lastSeen for chipID. Unknown ids are ignored.
func (r *Registry) Touch(chipID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[chipID]
	if !ok {
		return false
	}
	touch(rec, r.now())
	return true
}

// FindConnectionFor returns the connection currently representing chipID.
func (r *Registry) FindConnectionFor(chipID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[chipID]
	if !ok {
		return "", false
	}
	return rec.ConnectionID, true
}

// SubscribersOf returns every client connection subscribed to chipID.
func (r *Registry) SubscribersOf(chipID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribersLocked(chipID)
}

// RemoveByConnection drops the subscription owned by connectionID and every
// device record it represents. The returned evictions carry the subscribers
// to notify.
func (r *Registry) RemoveByConnection(connectionID string) []Eviction {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, connectionID)

	var evicted []Eviction
	for chipID, rec := range r.devices {
		if rec.ConnectionID != connectionID {
			continue
		}
		delete(r.devices, chipID)
		evicted = append(evicted, Eviction{
			ChipID:       chipID,
			ConnectionID: connectionID,
			Subscribers:  r.subscribersLocked(chipID),
		})
	}
	sortEvictions(evicted)
	return evicted
}

// Sweep removes every device whose lastSeen is more than timeout before now.
// Subscriptions are left untouched.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []Eviction {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Eviction
	for chipID, rec := range r.devices {
		if now.Sub(rec.LastSeen) <= timeout {
			continue
		}
		evicted = append(evicted, Eviction{
			ChipID:       chipID,
			ConnectionID: rec.ConnectionID,
			Subscribers:  r.subscribersLocked(chipID),
		})
		delete(r.devices, chipID)
	}
	sortEvictions(evicted)
	return evicted
}

// Device returns the snapshot for chipID.
func (r *Registry) Device(chipID string) (model.DeviceSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[chipID]
	if !ok {
		return model.DeviceSnapshot{}, false
	}
	return rec.Snapshot(), true
}

// Devices returns snapshots of all registered devices ordered by chip id.
func (r *Registry) Devices() []model.DeviceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.DeviceSnapshot, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, rec.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChipID < out[j].ChipID })
	return out
}

// Subscription returns a copy of the chip ids connectionID is subscribed to.
func (r *Registry) Subscription(connectionID string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.clients[connectionID]
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(sub.ChipIDs))
	for id := range sub.ChipIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, true
}

// Stats returns the number of devices and client subscriptions.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Devices: len(r.devices), Clients: len(r.clients)}
}

func (r *Registry) subscribersLocked(chipID string) []string {
	var subs []string
	for connID, sub := range r.clients {
		if sub.Contains(chipID) {
			subs = append(subs, connID)
		}
	}
	sort.Strings(subs)
	return subs
}

// touch moves lastSeen forward, never backward.
func touch(rec *model.DeviceRecord, now time.Time) {
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
}

func sortEvictions(ev []Eviction) {
	sort.Slice(ev, func(i, j int) bool { return ev[i].ChipID < ev[j].ChipID })
}
