package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitUplenchwar2687/tlog/internal/capture"
)

// DefaultLiveInterval is how often /stats/live pushes the counters.
const DefaultLiveInterval = time.Second

const liveWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{}

// liveStats is one /stats/live message.
type liveStats struct {
	State string    `json:"state"`
	Time  time.Time `json:"time"`
	capture.Stats
}

type liveClient struct {
	mu   sync.Mutex // one writer at a time per connection
	conn *websocket.Conn
}

func (c *liveClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages /stats/live subscribers and broadcasts recording counters.
type Hub struct {
	mu      sync.RWMutex
	clients map[*liveClient]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*liveClient]struct{})}
}

// HandleWebSocket upgrades the connection, registers the client and sends
// it first as the opening message.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, first []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[metrics] websocket upgrade: %v", err)
		return
	}
	c := &liveClient{conn: conn}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if err := c.send(first); err != nil {
		log.Printf("[metrics] websocket write: %v", err)
		conn.Close()
	}

	// Subscribers never send anything; reading only notices the disconnect.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends data to every connected client. A client that cannot
// take it is closed; its read loop unregisters it.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if err := c.send(data); err != nil {
			log.Printf("[metrics] websocket write: %v", err)
			c.conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (s *Server) liveSnapshot() ([]byte, error) {
	return json.Marshal(liveStats{
		State: s.source.State().String(),
		Time:  s.clock.Now(),
		Stats: s.source.Stats(),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	data, err := s.liveSnapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.HandleWebSocket(w, r, data)
}

// pushLive broadcasts the counters every live interval until the server
// shuts down.
func (s *Server) pushLive() {
	for {
		select {
		case <-s.done:
			return
		case <-s.clock.After(s.liveInterval):
		}
		if s.hub.ClientCount() == 0 {
			continue
		}
		data, err := s.liveSnapshot()
		if err != nil {
			log.Printf("[metrics] encoding live stats: %v", err)
			continue
		}
		s.hub.Broadcast(data)
	}
}
