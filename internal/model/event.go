package model

import "time"

// EventKind classifies a DeviceEvent.
type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventStatus       EventKind = "status"
	EventDisconnected EventKind = "disconnected"
	EventEvicted      EventKind = "evicted"
)

// DeviceEvent is an audit entry describing a change to the registry.
type DeviceEvent struct {
	ID           int64     `json:"id,omitempty"`
	ChipID       string    `json:"chipId"`
	Kind         EventKind `json:"kind"`
	ConnectionID string    `json:"connectionId,omitempty"`
	RelayStatus  *bool     `json:"relayStatus,omitempty"`
	PirStatus    *bool     `json:"pirStatus,omitempty"`
	At           time.Time `json:"at"`
}

// Online reports whether the device is reachable after this event.
func (e DeviceEvent) Online() bool {
	return e.Kind == EventRegistered || e.Kind == EventStatus
}
