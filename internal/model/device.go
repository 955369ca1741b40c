// Package model defines the relay's domain types and errors.
package model

import (
	"time"
)

// DeviceRecord is the last known state of one device.
type DeviceRecord struct {
	ChipID       string
	ConnectionID string
	LastSeen     time.Time
	RegisteredAt time.Time
	RelayStatus  bool
	PirStatus    bool
}

// Snapshot returns the client-facing view of the record. The connection id
// stays internal to the relay.
func (d *DeviceRecord) Snapshot() DeviceSnapshot {
	return DeviceSnapshot{
		ChipID:      d.ChipID,
		LastSeen:    d.LastSeen.UnixMilli(),
		RelayStatus: d.RelayStatus,
		PirStatus:   d.PirStatus,
	}
}

// DeviceSnapshot is a DeviceRecord as sent to clients.
// LastSeen is milliseconds since the Unix epoch.
type DeviceSnapshot struct {
	ChipID      string `json:"chipId"`
	LastSeen    int64  `json:"lastSeen"`
	RelayStatus bool   `json:"relayStatus"`
	PirStatus   bool   `json:"pirStatus"`
}

// ClientSubscription is the set of chip ids one client connection follows.
type ClientSubscription struct {
	ConnectionID string
	ChipIDs      map[string]struct{}
}

// NewClientSubscription builds a subscription from a list of chip ids.
// Duplicates collapse.
func NewClientSubscription(connectionID string, chipIDs []string) *ClientSubscription {
	set := make(map[string]struct{}, len(chipIDs))
	for _, id := range chipIDs {
		set[id] = struct{}{}
	}
	return &ClientSubscription{
		ConnectionID: connectionID,
		ChipIDs:      set,
	}
}

// Contains reports whether the subscription includes chipID.
func (s *ClientSubscription) Contains(chipID string) bool {
	_, ok := s.ChipIDs[chipID]
	return ok
}

// Action is a command a client may send to a device.
type Action string

const (
	ActionTurnOn  Action = "turnOn"
	ActionTurnOff Action = "turnOff"
	ActionStatus  Action = "status"
)

// Valid reports whether a is one of the recognised actions.
func (a Action) Valid() bool {
	switch a {
	case ActionTurnOn, ActionTurnOff, ActionStatus:
		return true
	}
	return false
}
