package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/sensor-relay/backend/internal/ws"
)

// WebSocketHandler upgrades relay connections for devices and clients.
type WebSocketHandler struct {
	service *ws.Service
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(service *ws.Service) *WebSocketHandler {
	return &WebSocketHandler{service: service}
}

// Connect handles GET on the websocket path.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if err := h.service.HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already written the HTTP error
		return
	}
}

// RegisterRoutes registers the websocket route at path.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes, path string) {
	r.GET(path, h.Connect)
}
