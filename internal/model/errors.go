package model

import "errors"

var (
	// ErrInvalidRequest is returned when an inbound payload cannot be interpreted.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrChipIDRequired is returned when a device registers without a chip id.
	ErrChipIDRequired = errors.New("chipId is required")

	// ErrChipIDsNotList is returned when a client registration does not carry a list of chip ids.
	ErrChipIDsNotList = errors.New("chipIds must be an array")

	// ErrDeviceNotFound is returned when a request references a chip id that is not registered.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceNotRegistered is returned when a device reports status before registering.
	ErrDeviceNotRegistered = errors.New("device not registered")

	// ErrInvalidAction is returned when a sensor request names an unknown action.
	ErrInvalidAction = errors.New("invalid action")

	// ErrConnectionNotFound is returned when sending to a connection that is not open.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrConnectionClosed is returned when a connection's send queue is already closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrJournalDisabled is returned when event history is requested without a journal.
	ErrJournalDisabled = errors.New("event journal disabled")
)
