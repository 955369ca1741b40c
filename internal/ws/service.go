package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventHandler receives connection lifecycle and inbound events.
type EventHandler interface {
	Connect(connectionID string)
	HandleEvent(connectionID, event string, data json.RawMessage)
	Disconnect(connectionID string)
}

// Config holds per-connection transport limits.
type Config struct {
	// PingInterval is how often the server pings an idle peer.
	PingInterval time.Duration
	// PongTimeout is how long a silent peer is kept before it is dropped.
	PongTimeout time.Duration
	// WriteWait bounds a single frame write.
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
	CheckOrigin    func(r *http.Request) bool
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8192
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// Service accepts websocket connections and pumps frames between them and
// an EventHandler.
type Service struct {
	hub      *Hub
	handler  EventHandler
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewService creates a Service that registers connections in hub and
// delivers their events to handler.
func NewService(hub *Hub, handler EventHandler, cfg Config, log zerolog.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		hub:     hub,
		handler: handler,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		log: log,
	}
}

// Hub returns the connection hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.HandleConnection(w, r); err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
	}
}

// HandleConnection upgrades the HTTP connection, assigns it an id and starts
// its read and write pumps.
func (s *Service) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := NewConn(wsConn, uuid.NewString(), s.cfg.SendBuffer)
	s.hub.Register(conn)
	s.handler.Connect(conn.ID())

	s.wg.Add(2)
	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump is the per-connection worker: it hands inbound frames to the
// handler one at a time and reports the disconnect when the peer goes away.
func (s *Service) readPump(c *Conn) {
	defer func() {
		s.hub.Unregister(c)
		c.conn.Close()
		s.handler.Disconnect(c.ID())
		s.wg.Done()
	}()

	c.conn.SetReadLimit(s.cfg.MaxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Str("conn_id", c.ID()).Msg("websocket read error")
			}
			return
		}
		// Any inbound frame counts as liveness.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		env, err := decodeFrame(frame)
		if err != nil {
			s.log.Debug().Err(err).Str("conn_id", c.ID()).Msg("dropping malformed frame")
			continue
		}
		s.handler.HandleEvent(c.ID(), env.Event, env.Data)
	}
}

// writePump drains the connection's queue and keeps it alive with pings.
func (s *Service) writePump(c *Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		s.wg.Done()
	}()

	for {
		select {
		case frame, ok := <-c.SendChan():
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if !ok {
				// The hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One event per frame so peers can parse each message on its own.
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes every connection and waits for their pumps to finish.
func (s *Service) Close() {
	s.hub.Close()
	s.wg.Wait()
}
