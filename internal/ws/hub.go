package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sensor-relay/backend/internal/model"
)

// Envelope is the frame exchanged with peers.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn represents one websocket peer.
type Conn struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewConn creates a Conn with an outbound queue of bufferSize frames.
func NewConn(conn *websocket.Conn, id string, bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Conn{
		id:   id,
		conn: conn,
		send: make(chan []byte, bufferSize),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Send queues a frame. A peer that cannot keep up with its queue is closed.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return model.ErrConnectionClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		// Buffer full, close the connection
		c.closeLocked()
		return fmt.Errorf("send queue full: %w", model.ErrConnectionClosed)
	}
}

// Close closes the outbound queue. The write pump then sends a close frame.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the connection is closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SendChan returns the outbound queue.
func (c *Conn) SendChan() <-chan []byte {
	return c.send
}

// Hub tracks open connections by id.
type Hub struct {
	conns map[string]*Conn
	mu    sync.RWMutex
	log   zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns: make(map[string]*Conn),
		log:   log,
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	count := len(h.conns)
	h.mu.Unlock()

	h.log.Debug().Str("conn_id", c.id).Int("connections", count).Msg("websocket connected")
}

// Unregister removes a connection and closes it.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	if current, ok := h.conns[c.id]; ok && current == c {
		delete(h.conns, c.id)
	}
	count := len(h.conns)
	h.mu.Unlock()

	c.Close()
	h.log.Debug().Str("conn_id", c.id).Int("connections", count).Msg("websocket disconnected")
}

// Get returns the connection with the given id.
func (h *Hub) Get(id string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// Send encodes payload as an event frame and queues it for connectionID.
// It never waits for the peer.
func (h *Hub) Send(connectionID, event string, payload any) error {
	c, ok := h.Get(connectionID)
	if !ok {
		return fmt.Errorf("%s: %w", connectionID, model.ErrConnectionNotFound)
	}

	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

func decodeFrame(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("frame has no event name")
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("{}")
	}
	return env, nil
}
