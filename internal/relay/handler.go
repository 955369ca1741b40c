// Package relay interprets inbound device and client events against the
// registry and emits the resulting outbound events through a Transport.
package relay

import (
	"encoding/json"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sensor-relay/backend/internal/model"
	"github.com/sensor-relay/backend/internal/registry"
)

// Transport delivers a named event to one connection. Delivery is best
// effort; an error means the peer is going away and its disconnect will
// follow.
type Transport interface {
	Send(connectionID, event string, payload any) error
}

// EventSink receives a copy of every registry change. Implementations must
// not block.
type EventSink interface {
	Record(ev model.DeviceEvent)
}

// Handler is the relay protocol state machine. One Handler serves every
// connection; per-connection events must be delivered in arrival order.
type Handler struct {
	registry  *registry.Registry
	transport Transport
	sinks     []EventSink
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHandler creates a Handler over reg that sends through transport.
func NewHandler(reg *registry.Registry, transport Transport, log zerolog.Logger, sinks ...EventSink) *Handler {
	return &Handler{
		registry:  reg,
		transport: transport,
		sinks:     sinks,
		log:       log,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// AddSink attaches another EventSink. It must be called before the first
// connection is accepted.
func (h *Handler) AddSink(sink EventSink) {
	h.sinks = append(h.sinks, sink)
}

// Connect opens a session for connectionID.
func (h *Handler) Connect(connectionID string) {
	h.mu.Lock()
	h.sessions[connectionID] = &Session{
		ConnectionID: connectionID,
		ConnectedAt:  h.now(),
	}
	count := len(h.sessions)
	h.mu.Unlock()

	h.log.Info().Str("conn_id", connectionID).Int("connections", count).Msg("new connection")
}

// Session returns a copy of the session for connectionID.
func (h *Handler) Session(connectionID string) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connectionID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// HandleEvent processes one inbound event. A panic while handling is
// recovered so a single malformed message cannot take down the relay.
func (h *Handler) HandleEvent(connectionID, event string, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("conn_id", connectionID).
				Str("event", event).
				Msg("event handler crashed")
		}
	}()

	switch event {
	case EventDeviceRegister:
		h.handleDeviceRegister(connectionID, data)
	case EventClientRegister:
		h.handleClientRegister(connectionID, data)
	case EventSensorRequest:
		h.handleSensorRequest(connectionID, data)
	case EventSensorResponse:
		h.handleSensorResponse(connectionID, data)
	case EventHeartbeat:
		h.handleHeartbeat(data)
	default:
		h.log.Debug().Str("conn_id", connectionID).Str("event", event).Msg("ignoring unknown event")
	}
}

// Disconnect removes everything owned by connectionID and tells subscribers
// about devices that went offline with it.
func (h *Handler) Disconnect(connectionID string) {
	h.mu.Lock()
	delete(h.sessions, connectionID)
	h.mu.Unlock()

	evicted := h.registry.RemoveByConnection(connectionID)
	for _, ev := range evicted {
		h.log.Info().Str("chip_id", ev.ChipID).Str("conn_id", connectionID).Msg("device disconnected")
		h.notifyOffline(ev, model.EventDisconnected)
	}

	h.log.Info().Str("conn_id", connectionID).Int("devices_removed", len(evicted)).Msg("disconnected")
}

// NotifyEvicted tells subscribers that a stale device was removed by the
// liveness monitor.
func (h *Handler) NotifyEvicted(ev registry.Eviction) {
	h.log.Info().Str("chip_id", ev.ChipID).Msg("removing stale device")
	h.notifyOffline(ev, model.EventEvicted)
}

func (h *Handler) handleDeviceRegister(connectionID string, data json.RawMessage) {
	var req deviceRegisterRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChipID == "" {
		h.reject(connectionID, EventDeviceRegister, model.ErrChipIDRequired)
		return
	}
	id := string(req.ChipID)

	if _, existed := h.registry.FindConnectionFor(id); existed {
		h.log.Info().Str("chip_id", id).Str("conn_id", connectionID).Msg("device already registered")
	}

	rec := h.registry.RegisterDevice(id, connectionID)
	h.withSession(connectionID, func(s *Session) { s.becomeDevice(id) })

	h.log.Info().Str("chip_id", id).Str("conn_id", connectionID).Msg("device registered")
	h.record(model.DeviceEvent{
		ChipID:       id,
		Kind:         model.EventRegistered,
		ConnectionID: connectionID,
		RelayStatus:  boolRef(rec.RelayStatus),
		PirStatus:    boolRef(rec.PirStatus),
		At:           rec.LastSeen,
	})

	h.send(connectionID, EventRegisterConfirm, DeviceRegisterConfirm{Success: true, ChipID: id})
}

func (h *Handler) handleClientRegister(connectionID string, data json.RawMessage) {
	var req clientRegisterRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.reject(connectionID, EventClientRegister, model.ErrChipIDsNotList)
		return
	}
	ids, err := decodeChipIDs(req.ChipIDs)
	if err != nil {
		h.reject(connectionID, EventClientRegister, err)
		return
	}

	devices, err := h.registry.RegisterClient(connectionID, ids)
	if err != nil {
		h.reject(connectionID, EventClientRegister, err)
		return
	}
	h.withSession(connectionID, func(s *Session) { s.becomeClient(ids) })

	h.log.Info().
		Str("conn_id", connectionID).
		Strs("chip_ids", ids).
		Int("online", len(devices)).
		Msg("client registered")

	h.send(connectionID, EventRegisterConfirm, ClientRegisterConfirm{Success: true, Devices: devices})
}

func (h *Handler) handleSensorRequest(connectionID string, data json.RawMessage) {
	var req sensorRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.log.Debug().Err(err).Str("conn_id", connectionID).Msg("malformed sensor request")
	}
	id := string(req.ChipID)

	target, ok := h.registry.FindConnectionFor(id)
	if !ok {
		h.send(connectionID, EventSensorResponse, SensorFailure{ChipID: id, Error: msgDeviceNotFound})
		return
	}
	if !req.Action.Valid() {
		h.send(connectionID, EventSensorResponse, SensorFailure{ChipID: id, Error: msgInvalidAction})
		return
	}

	h.log.Debug().
		Str("chip_id", id).
		Str("action", string(req.Action)).
		Str("from", connectionID).
		Str("to", target).
		Msg("forwarding sensor request")
	h.send(target, EventSensorRequest, DeviceCommand{Action: req.Action})
}

func (h *Handler) handleSensorResponse(connectionID string, data json.RawMessage) {
	var rep sensorReport
	if err := json.Unmarshal(data, &rep); err != nil {
		h.log.Debug().Err(err).Str("conn_id", connectionID).Msg("malformed sensor response")
	}
	id := string(rep.ChipID)

	rec, ok := h.registry.UpdateDeviceStatus(id, rep.RelayStatus, rep.PirStatus)
	if !ok {
		h.reject(connectionID, EventSensorResponse, model.ErrDeviceNotRegistered)
		return
	}

	h.record(model.DeviceEvent{
		ChipID:       id,
		Kind:         model.EventStatus,
		ConnectionID: connectionID,
		RelayStatus:  boolRef(rec.RelayStatus),
		PirStatus:    boolRef(rec.PirStatus),
		At:           rec.LastSeen,
	})

	status := SensorStatus{
		ChipID:      id,
		RelayStatus: rec.RelayStatus,
		PirStatus:   rec.PirStatus,
		Success:     true,
	}
	for _, sub := range h.registry.SubscribersOf(id) {
		h.send(sub, EventSensorResponse, status)
	}
}

func (h *Handler) handleHeartbeat(data json.RawMessage) {
	var req heartbeatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	h.registry.Touch(string(req.ChipID))
}

func (h *Handler) notifyOffline(ev registry.Eviction, kind model.EventKind) {
	h.record(model.DeviceEvent{
		ChipID:       ev.ChipID,
		Kind:         kind,
		ConnectionID: ev.ConnectionID,
		At:           h.now(),
	})
	msg := DeviceDisconnected{ChipID: ev.ChipID}
	for _, sub := range ev.Subscribers {
		h.send(sub, EventDeviceDisconnected, msg)
	}
}

// reject reports a validation or lookup failure to the sender only.
func (h *Handler) reject(connectionID, event string, err error) {
	h.log.Debug().Err(err).Str("conn_id", connectionID).Str("event", event).Msg("request rejected")
	h.send(connectionID, EventError, ErrorMessage{Message: wireMessage(err)})
}

func (h *Handler) send(connectionID, event string, payload any) {
	if err := h.transport.Send(connectionID, event, payload); err != nil {
		h.log.Debug().Err(err).Str("conn_id", connectionID).Str("event", event).Msg("send failed")
	}
}

func (h *Handler) record(ev model.DeviceEvent) {
	for _, sink := range h.sinks {
		sink.Record(ev)
	}
}

func (h *Handler) withSession(connectionID string, fn func(*Session)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[connectionID]; ok {
		fn(s)
	}
}

// wireMessage maps a relay error to the text existing peers expect.
func wireMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrChipIDRequired):
		return msgChipIDRequired
	case errors.Is(err, model.ErrChipIDsNotList):
		return msgChipIDsNotList
	case errors.Is(err, model.ErrDeviceNotFound):
		return msgDeviceNotFound
	case errors.Is(err, model.ErrInvalidAction):
		return msgInvalidAction
	case errors.Is(err, model.ErrDeviceNotRegistered):
		return msgDeviceNotRegistered
	default:
		return err.Error()
	}
}

func boolRef(b bool) *bool { return &b }
