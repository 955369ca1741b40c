package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sensor-relay/backend/internal/buffer"
	"github.com/sensor-relay/backend/internal/journal"
	"github.com/sensor-relay/backend/internal/model"
	"github.com/sensor-relay/backend/internal/registry"
)

// DeviceHandler serves read-only views of the relay state.
type DeviceHandler struct {
	registry    *registry.Registry
	connections func() int
	recent      *buffer.EventBuffer
	journal     *journal.Journal
	startedAt   time.Time
}

// NewDeviceHandler creates a DeviceHandler. connections reports the number
// of open websocket connections. j may be nil when the journal is disabled.
func NewDeviceHandler(reg *registry.Registry, connections func() int, recent *buffer.EventBuffer, j *journal.Journal) *DeviceHandler {
	return &DeviceHandler{
		registry:    reg,
		connections: connections,
		recent:      recent,
		journal:     j,
		startedAt:   time.Now(),
	}
}

// DeviceListResponse wraps the device list.
type DeviceListResponse struct {
	Devices []model.DeviceSnapshot `json:"devices"`
	Count   int                    `json:"count"`
}

// EventListResponse wraps a list of device events.
type EventListResponse struct {
	Events []model.DeviceEvent `json:"events"`
	Count  int                 `json:"count"`
}

// StatsResponse describes the relay at a glance.
type StatsResponse struct {
	Devices       int           `json:"devices"`
	Clients       int           `json:"clients"`
	Connections   int           `json:"connections"`
	UptimeSeconds int64         `json:"uptimeSeconds"`
	Journal       *JournalStats `json:"journal,omitempty"`
}

// JournalStats reports journal throughput.
type JournalStats struct {
	Written int64                   `json:"written"`
	Dropped int64                   `json:"dropped"`
	ByKind  map[model.EventKind]int `json:"byKind,omitempty"`
}

// List handles GET /api/devices.
func (h *DeviceHandler) List(c *gin.Context) {
	devices := h.registry.Devices()
	c.JSON(http.StatusOK, DeviceListResponse{Devices: devices, Count: len(devices)})
}

// Get handles GET /api/devices/:chipId.
func (h *DeviceHandler) Get(c *gin.Context) {
	chipID := c.Param("chipId")
	device, ok := h.registry.Device(chipID)
	if !ok {
		sendError(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device "+chipID+" not found")
		return
	}
	c.JSON(http.StatusOK, device)
}

// Events handles GET /api/devices/:chipId/events - journal history for one device.
func (h *DeviceHandler) Events(c *gin.Context) {
	if h.journal == nil {
		sendError(c, http.StatusServiceUnavailable, "JOURNAL_DISABLED", model.ErrJournalDisabled.Error())
		return
	}

	limit, err := parseLimit(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	events, err := h.journal.Repository().ListByChip(c.Request.Context(), c.Param("chipId"), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load events: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, EventListResponse{Events: events, Count: len(events)})
}

// Recent handles GET /api/events - the in-memory event history.
func (h *DeviceHandler) Recent(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	events := h.recent.Recent(limit)
	if events == nil {
		events = []model.DeviceEvent{}
	}
	c.JSON(http.StatusOK, EventListResponse{Events: events, Count: len(events)})
}

// Stats handles GET /api/stats.
func (h *DeviceHandler) Stats(c *gin.Context) {
	stats := h.registry.Stats()
	resp := StatsResponse{
		Devices:       stats.Devices,
		Clients:       stats.Clients,
		Connections:   h.connections(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}

	if h.journal != nil {
		js := &JournalStats{
			Written: h.journal.Written(),
			Dropped: h.journal.Dropped(),
		}
		if byKind, err := h.journal.Repository().CountByKind(c.Request.Context()); err == nil {
			js.ByKind = byKind
		}
		resp.Journal = js
	}

	c.JSON(http.StatusOK, resp)
}

// RegisterRoutes registers the device routes on a Gin router group.
func (h *DeviceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/devices", h.List)
	rg.GET("/devices/:chipId", h.Get)
	rg.GET("/devices/:chipId/events", h.Events)
	rg.GET("/events", h.Recent)
	rg.GET("/stats", h.Stats)
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}
