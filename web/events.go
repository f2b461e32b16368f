package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"isp-orchestrator/camera"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventHub streams manager events to WebSocket clients. It is an
// EventSink; a client that cannot keep up loses events instead of
// stalling the manager.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	clients map[string]*EventClient
	mu      sync.RWMutex

	allowedOrigins []string
	sendBufferSize int
	status         func() camera.Status
}

// EventClient is one connected WebSocket subscriber
type EventClient struct {
	id     string
	conn   *websocket.Conn
	hub    *EventHub
	logger *zap.Logger

	send chan []byte

	closed bool
	mu     sync.RWMutex

	connectedAt time.Time
	dropped     uint64
}

// HubMessage is the envelope of every message on the event socket
type HubMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewEventHub creates a hub. status answers "status" requests from clients.
func NewEventHub(allowedOrigins []string, sendBufferSize int, status func() camera.Status, logger *zap.Logger) *EventHub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if sendBufferSize <= 0 {
		sendBufferSize = 64
	}

	h := &EventHub{
		logger:         logger.With(zap.String("component", "event_hub")),
		clients:        make(map[string]*EventClient),
		allowedOrigins: allowedOrigins,
		sendBufferSize: sendBufferSize,
		status:         status,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// checkOrigin validates the request origin against allowed origins
func (h *EventHub) checkOrigin(r *http.Request) bool {
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" {
			return true
		}
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn("Origin not allowed",
		zap.String("origin", origin),
		zap.Strings("allowed_origins", h.allowedOrigins))
	return false
}

// HandleWebSocket upgrades the request and registers the client
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := &EventClient{
		id:          clientID,
		conn:        conn,
		hub:         h,
		logger:      h.logger.With(zap.String("client_id", clientID)),
		send:        make(chan []byte, h.sendBufferSize),
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	h.clients[clientID] = client
	h.mu.Unlock()

	client.logger.Info("Event client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.Header.Get("User-Agent")))

	go client.writePump()
	go client.readPump()
}

// Notify implements camera.EventSink
func (h *EventHub) Notify(ev camera.Event) {
	h.Broadcast("event", ev)
}

// Broadcast sends a message to all connected clients
func (h *EventHub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(HubMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.String("type", msgType), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.enqueue(payload)
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *EventHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*EventClient)
	h.mu.Unlock()

	h.logger.Info("Closing event hub", zap.Int("clients", len(clients)))
	for _, c := range clients {
		c.close()
	}
}

func (h *EventHub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// readPump handles client requests until the connection drops
func (c *EventClient) readPump() {
	defer c.close()

	for {
		var msg HubMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		c.logger.Debug("Received message", zap.String("type", msg.Type))
		if err := c.handleMessage(msg); err != nil {
			c.sendMessage("error", map[string]string{"message": err.Error()})
		}
	}
}

// writePump writes queued messages until the send channel closes
func (c *EventClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Error("WebSocket write error", zap.Error(err))
			go c.close()
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *EventClient) handleMessage(msg HubMessage) error {
	switch msg.Type {
	case "ping":
		c.sendMessage("pong", nil)
	case "status":
		if c.hub.status == nil {
			return fmt.Errorf("status not available")
		}
		c.sendMessage("status", c.hub.status())
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
	return nil
}

func (c *EventClient) sendMessage(msgType string, data interface{}) {
	payload, err := json.Marshal(HubMessage{Type: msgType, Data: data})
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.String("type", msgType), zap.Error(err))
		return
	}
	c.enqueue(payload)
}

// enqueue never blocks; a full buffer drops the message
func (c *EventClient) enqueue(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.dropped++
		c.logger.Warn("Client too slow, dropping message", zap.Uint64("dropped", c.dropped))
	}
}

func (c *EventClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.hub.remove(c.id)
	c.logger.Info("Event client disconnected", zap.Duration("connected_for", time.Since(c.connectedAt)))
}
