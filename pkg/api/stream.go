package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/terminal-discovery/pkg/logger"
	"github.com/carverauto/terminal-discovery/pkg/terminal"
)

const (
	defaultQueueSize = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

// Hub fans change batches out to websocket subscribers. Broadcast never
// blocks: a client whose queue is full is disconnected.
type Hub struct {
	logger    logger.Logger
	queueSize int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub returns a Hub buffering queueSize batches per client; a
// non-positive size selects the default.
func NewHub(log logger.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Hub{
		logger:    log,
		queueSize: queueSize,
		clients:   make(map[*client]struct{}),
	}
}

// Broadcast queues events for every subscriber as one JSON array. It has
// the terminal.ReportFunc signature.
func (h *Hub) Broadcast(events []terminal.ChangeEvent) {
	if len(events) == 0 {
		return
	}

	msg, err := json.Marshal(events)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode change batch for websocket clients")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn().Str("remote_addr", c.addr).Msg("Websocket client too slow, disconnecting")
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true

	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) add(conn *websocket.Conn, addr string) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, false
	}

	c := &client{conn: conn, send: make(chan []byte, h.queueSize), addr: addr}
	h.clients[c] = struct{}{}

	return c, true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(c)
}

// removeLocked closes the client's queue, which ends its writer.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	close(c.send)
}

//nolint:gochecknoglobals // upgrader settings are static
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeHTTP upgrades the request and streams change batches until either
// side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}

	c, ok := h.add(conn, r.RemoteAddr)
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()

		return
	}

	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("WebSocket subscriber connected")

	go h.readLoop(c)

	h.writeLoop(c)

	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("WebSocket subscriber disconnected")
}

// readLoop discards client frames and detects disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(pingPeriod)

	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
