// Package notify implements the engine's Notifier collaborator as a
// websocket hub. Clients are tracked by an explicit registry with a defined
// add/remove lifecycle; nothing global, the hub is injected where needed.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/velkov/planflow/internal/log"
)

const writeTimeout = 10 * time.Second

type event struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Hub fans broadcast events out to connected websocket clients. Broadcast is
// fire-and-forget: a slow or dead client is dropped, never waited on.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*client]struct{}
	closed   bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades an HTTP request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.GetLogger().Errorf("Websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 32)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
	log.GetLogger().Infof("Websocket client connected (%d total)", h.ClientCount())
}

// Broadcast implements engine.Notifier. Marshal errors and send failures are
// logged and swallowed: push delivery is best-effort by contract.
func (h *Hub) Broadcast(eventName string, payload interface{}) {
	msg, err := json.Marshal(event{Event: eventName, Payload: payload})
	if err != nil {
		log.GetLogger().Errorf("Failed to encode broadcast %q: %v", eventName, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// client cannot keep up, drop it
			h.removeLocked(c)
		}
	}
}

// ClientCount reports the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	c.conn.Close()
}

func (h *Hub) writeLoop(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
}

// readLoop drains inbound frames so pings are answered; clients are
// listeners only and their messages are discarded.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
