package notify

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"soltybet/internal/metrics"
	"soltybet/internal/phase"

	"github.com/gorilla/websocket"
)

// Source is the phase machine as seen by the hub
type Source interface {
	Snapshot() phase.State
	Subscribe() (<-chan phase.Notice, func())
}

type HubConfig struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:     32,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 512,
	}
}

// Hub fans phase events out to websocket clients. Every client has its own
// buffered queue; a client that cannot keep up is disconnected.
type Hub struct {
	source   Source
	config   HubConfig
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	// newest phase event sent out, replayed to clients as they join
	last      []byte
	lastStamp time.Time
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(source Source, config HubConfig, m *metrics.Metrics) *Hub {
	if config.SendBuffer <= 0 {
		config.SendBuffer = 32
	}
	return &Hub{
		source:  source,
		config:  config,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Run forwards machine notices to clients until ctx is cancelled. Each
// subscription starts by sending the current state, so clients catch up
// after the machine drops the hub; older phase notices still queued behind
// that state are skipped.
func (h *Hub) Run(ctx context.Context) {
	for {
		notices, cancel := h.source.Subscribe()
		snap := h.source.Snapshot()
		h.sendState(FromState(snap), snap.UpdatedAt)
		h.forward(ctx, notices)
		cancel()

		if ctx.Err() != nil {
			h.Close()
			log.Println("[Hub] stopped")
			return
		}
		log.Println("[Hub] subscription dropped, resubscribing")
	}
}

func (h *Hub) forward(ctx context.Context, notices <-chan phase.Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if n.Kind == phase.NoticePhase {
				h.sendState(FromNotice(n), n.State.UpdatedAt)
			} else {
				h.Broadcast(FromNotice(n))
			}
		}
	}
}

// sendState broadcasts a phase event stamped with the state time. Clients
// never get a state older than one already sent, nor the same one twice.
func (h *Hub) sendState(e Event, stamp time.Time) {
	data, err := Encode(e)
	if err != nil {
		log.Printf("[Hub] dropping invalid event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if stamp.Before(h.lastStamp) || bytes.Equal(data, h.last) {
		return
	}
	h.last, h.lastStamp = data, stamp
	h.fanOutLocked(data)
}

// Broadcast queues e on every client without blocking
func (h *Hub) Broadcast(e Event) {
	data, err := Encode(e)
	if err != nil {
		log.Printf("[Hub] dropping invalid event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if e.Type() == TypePhase {
		h.last = data
	}
	h.fanOutLocked(data)
}

func (h *Hub) fanOutLocked(data []byte) {
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("[Hub] client %s fell behind, disconnecting", c.addr())
			h.removeLocked(c, true)
		}
	}
}

// ServeHTTP upgrades the request and registers the client. The last state
// sent to everyone else is queued before any broadcast can reach the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub] upgrade error: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, h.config.SendBuffer)}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil && h.source != nil {
		snap := h.source.Snapshot()
		if data, err := Encode(FromState(snap)); err == nil {
			h.last, h.lastStamp = data, snap.UpdatedAt
		}
	}

	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.metrics.ClientConnected()
	log.Printf("[Hub] client connected (%d total)", len(h.clients))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, false)
}

func (h *Hub) removeLocked(c *client, dropped bool) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.ClientDisconnected(dropped)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c, false)
	}
}

func (c *client) addr() string {
	if c.conn == nil {
		return "?"
	}
	return c.conn.RemoteAddr().String()
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	cfg := c.hub.config
	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if cfg.PongWait > 0 {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})
	}

	// clients only listen; reading keeps control frames flowing
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	cfg := c.hub.config
	var ping <-chan time.Time
	if cfg.PingPeriod > 0 {
		ticker := time.NewTicker(cfg.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.setWriteDeadline()
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) setWriteDeadline() {
	if c.hub.config.WriteWait > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait))
	}
}
