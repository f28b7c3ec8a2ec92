package handlers

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/printkiosk/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	clientBacklog  = 64
	handshakeLimit = 10 * time.Second
)

// Hub fans kiosk events out to connected UI clients over WebSocket
type Hub struct {
	bus      *events.Bus
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan events.Event
}

// NewHub creates a hub restricted to the given origins
func NewHub(bus *events.Bus, allowedOrigins []string) *Hub {
	h := &Hub{
		bus:     bus,
		clients: make(map[*wsClient]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: handshakeLimit,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			log.Printf("Rejected WebSocket connection from origin %s", origin)
			return false
		},
	}
	return h
}

// Run bridges the event bus onto connected clients until ctx ends
func (h *Hub) Run(ctx context.Context) {
	topics := []events.Topic{
		events.TopicShopOpen,
		events.TopicSessionReady,
		events.TopicUploadProgress,
		events.TopicBatchSettled,
		events.TopicOrderCreated,
	}
	for _, topic := range topics {
		ch, cancel, err := h.bus.Subscribe(topic, 256)
		if err != nil {
			log.Printf("Failed to subscribe hub to %s: %v", topic, err)
			continue
		}
		go func() {
			defer cancel()
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					h.broadcast(ev)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) broadcast(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Slow consumer, drop it rather than stall the rest
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// ClientCount returns the number of connected UI clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the connection and streams events to it
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan events.Event, clientBacklog)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames; the stream is one-way. Reading is
// still required to process control frames and notice disconnects.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		if h.clients[c] {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
