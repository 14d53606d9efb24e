package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bondings/bondings/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 64 * 1024
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream is read-only public data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WebSocketClient represents a connected WebSocket client. A client with no
// subscriptions receives every channel.
type WebSocketClient struct {
	hub        *WebSocketHub
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	closed     bool
	mu         sync.Mutex
}

// WebSocketHub fans ledger events out to connected clients.
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan *WebSocketMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan *WebSocketMessage, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client connected",
				"total_clients", n,
				logging.Component("websocket"))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *WebSocketHub) remove(client *WebSocketClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closeSend()
	}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Debug("WebSocket client disconnected",
		"total_clients", n,
		logging.Component("websocket"))
}

// deliver drops clients whose buffer is full rather than stalling the hub.
func (h *WebSocketHub) deliver(msg *WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	var slow []*WebSocketClient
	h.mu.RLock()
	for client := range h.clients {
		if !client.wants(msg.Channel) {
			continue
		}
		if !client.enqueue(data) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.remove(client)
	}
}

// Broadcast sends a message to every client.
func (h *WebSocketHub) Broadcast(eventType string, data any) {
	h.BroadcastToChannel("", eventType, data)
}

// BroadcastToChannel sends a message to clients subscribed to channel.
func (h *WebSocketHub) BroadcastToChannel(channel, eventType string, data any) {
	msg := &WebSocketMessage{
		Type:    eventType,
		Channel: channel,
		Data:    data,
	}

	select {
	case h.broadcast <- msg:
	default:
		logging.Warn("WebSocket broadcast buffer full",
			"channel", channel,
			logging.Component("websocket"))
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newWebSocketClient(hub *WebSocketHub, conn *websocket.Conn, channels []string) *WebSocketClient {
	c := &WebSocketClient{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, wsSendBuffer),
		subscribed: make(map[string]bool),
	}
	for _, ch := range channels {
		if ch != "" {
			c.subscribed[ch] = true
		}
	}
	return c
}

func (c *WebSocketClient) wants(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return channel == "" || len(c.subscribed) == 0 || c.subscribed[channel]
}

// enqueue reports false when the client is closed or its buffer is full.
func (c *WebSocketClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WebSocketClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump handles subscription requests until the connection fails.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("WebSocket read error",
					logging.Err(err),
					logging.Component("websocket"))
			}
			return
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		c.handleMessage(&msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type channelRequest struct {
	Channels []string `json:"channels"`
}

func (c *WebSocketClient) handleMessage(msg *WebSocketMessage) {
	switch msg.Type {
	case "subscribe", "unsubscribe":
		var req channelRequest
		if raw, err := json.Marshal(msg.Data); err == nil {
			json.Unmarshal(raw, &req)
		}
		c.mu.Lock()
		for _, ch := range req.Channels {
			if msg.Type == "subscribe" {
				c.subscribed[ch] = true
			} else {
				delete(c.subscribed, ch)
			}
		}
		c.mu.Unlock()
		c.sendMessage(&WebSocketMessage{
			Type: msg.Type + "d",
			Data: channelRequest{Channels: c.subscribedChannels()},
		})
	case "ping":
		c.sendMessage(&WebSocketMessage{Type: "pong"})
	}
}

func (c *WebSocketClient) sendMessage(msg *WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WebSocketClient) subscribedChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := make([]string, 0, len(c.subscribed))
	for ch := range c.subscribed {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// handleWebSocket handles GET /v1/events. Repeated ?bonding= parameters
// pre-subscribe the client to those names.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed",
			logging.Err(err),
			logging.Component("websocket"))
		return
	}

	client := newWebSocketClient(s.wsHub, conn, r.URL.Query()["bonding"])
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
