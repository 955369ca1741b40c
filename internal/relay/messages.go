package relay

import (
	"bytes"
	"encoding/json"

	"github.com/sensor-relay/backend/internal/model"
)

// Wire event names shared with device firmware and dashboards.
const (
	// Inbound
	EventDeviceRegister = "deviceRegister"
	EventClientRegister = "clientRegister"
	EventSensorRequest  = "sensorRequest"
	EventSensorResponse = "sensorResponse"
	EventHeartbeat      = "heartbeat"

	// Outbound
	EventRegisterConfirm    = "registerConfirm"
	EventError              = "error"
	EventDeviceDisconnected = "deviceDisconnected"
)

// Wire error messages. Existing clients match on these strings.
const (
	msgChipIDRequired      = "chipId is required"
	msgChipIDsNotList      = "chipIds must be an array"
	msgDeviceNotFound      = "Device not found"
	msgInvalidAction       = "Invalid action"
	msgDeviceNotRegistered = "Device not registered"
)

// chipID accepts a JSON string or number. Firmware commonly reports the
// numeric chip id; it is kept in its decimal text form. A numeric zero
// decodes as empty, like a missing id.
type chipID string

// UnmarshalJSON implements json.Unmarshaler.
func (c *chipID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = chipID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if f, err := n.Float64(); err == nil && f == 0 {
		*c = ""
		return nil
	}
	*c = chipID(n.String())
	return nil
}

type deviceRegisterRequest struct {
	ChipID chipID `json:"chipId"`
}

type clientRegisterRequest struct {
	ChipIDs json.RawMessage `json:"chipIds"`
}

type sensorRequest struct {
	ChipID chipID       `json:"chipId"`
	Action model.Action `json:"action"`
}

type sensorReport struct {
	ChipID      chipID `json:"chipId"`
	RelayStatus *bool  `json:"relayStatus"`
	PirStatus   *bool  `json:"pirStatus"`
}

type heartbeatRequest struct {
	ChipID chipID `json:"chipId"`
}

// DeviceRegisterConfirm acknowledges a device registration.
type DeviceRegisterConfirm struct {
	Success bool   `json:"success"`
	ChipID  string `json:"chipId"`
}

// ClientRegisterConfirm acknowledges a client registration with the current
// state of every subscribed device that is online.
type ClientRegisterConfirm struct {
	Success bool                   `json:"success"`
	Devices []model.DeviceSnapshot `json:"devices"`
}

// ErrorMessage reports a rejected request to its sender.
type ErrorMessage struct {
	Message string `json:"message"`
}

// DeviceCommand is forwarded to a device connection.
type DeviceCommand struct {
	Action model.Action `json:"action"`
}

// SensorStatus is broadcast to subscribers after a device reports status.
type SensorStatus struct {
	ChipID      string `json:"chipId"`
	RelayStatus bool   `json:"relayStatus"`
	PirStatus   bool   `json:"pirStatus"`
	Success     bool   `json:"success"`
}

// SensorFailure tells a client its sensor request could not be delivered.
type SensorFailure struct {
	ChipID  string `json:"chipId"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// DeviceDisconnected notifies a subscriber that a device went offline.
type DeviceDisconnected struct {
	ChipID string `json:"chipId"`
}

// decodeChipIDs parses a chipIds field, which must be a JSON array of
// strings or numbers.
func decodeChipIDs(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, model.ErrChipIDsNotList
	}
	var ids []chipID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, model.ErrChipIDsNotList
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out, nil
}
