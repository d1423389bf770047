package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/scanlink/internal/capture"
	"github.com/nerrad567/scanlink/internal/events"
	"github.com/nerrad567/scanlink/internal/infrastructure/config"
	"github.com/nerrad567/scanlink/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeClaim       = "claim"
	WSTypeRelease     = "release"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeScan        = "scan"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes a client to every event type.
	WSChannelAll = "*"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// wsOutbound is the server-side shape of WSMessage; the payload is
// marshalled once on send.
type wsOutbound struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSClaimPayload names the listener kind a client claims or releases.
type WSClaimPayload struct {
	Kind string `json:"kind"`
}

// WSScanPayload is delivered to the client holding the winning claim.
type WSScanPayload struct {
	Kind string `json:"kind"`
	Data string `json:"data"`
}

// Hub manages WebSocket connections, relays bus events to subscribed
// clients, and registers scan listeners on behalf of clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	router  *capture.Router
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	claims        map[string]func()
	mu            sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub. router may be nil, in which case
// claims are refused.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, router *capture.Router) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		router:  router,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and drops its claims.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	client.releaseAll()

	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Relay broadcasts a bus event. It is registered as a bus subscriber.
func (h *Hub) Relay(e events.Event) {
	h.broadcast(e.Type, e.Timestamp, e.Payload)
}

// broadcast sends an event to all clients subscribed to the given channel.
// Lock ordering: hub lock is acquired first, then released before per-client
// subscription checks. This avoids holding both hub and client locks simultaneously.
func (h *Hub) broadcast(channel string, ts time.Time, payload any) {
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := json.Marshal(wsOutbound{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sentCount++
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.releaseAll()
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn)
	s.hub.Register(client)

	// Start read/write pumps
	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		claims:        make(map[string]func()),
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypeClaim:
		c.handleClaim(msg)
	case WSTypeRelease:
		c.handleRelease(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe adds channels to the client's subscription list.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed", "channels", sub.Channels)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": sub.Channels,
	})
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Channels,
	})
}

// handleClaim registers the client as the scan listener for a kind. A
// later claim for the same kind, from any client, takes over.
func (c *WSClient) handleClaim(msg WSMessage) {
	var claim WSClaimPayload
	if err := json.Unmarshal(msg.Payload, &claim); err != nil || claim.Kind == "" {
		c.sendError(msg.ID, "invalid claim payload")
		return
	}
	if c.hub.router == nil {
		c.sendError(msg.ID, "scan routing unavailable")
		return
	}

	kind := claim.Kind
	unregister := c.hub.router.Register(kind, func(data string) {
		c.sendResponse("", WSTypeScan, WSScanPayload{Kind: kind, Data: data})
	})

	c.mu.Lock()
	prev := c.claims[kind]
	c.claims[kind] = unregister
	c.mu.Unlock()
	if prev != nil {
		prev()
	}

	c.hub.logger.Info("websocket client claimed scans", "kind", kind)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"claimed":    kind,
		"priorities": c.hub.router.Priorities(),
	})
}

// handleRelease drops the client's claim for a kind.
func (c *WSClient) handleRelease(msg WSMessage) {
	var claim WSClaimPayload
	if err := json.Unmarshal(msg.Payload, &claim); err != nil || claim.Kind == "" {
		c.sendError(msg.ID, "invalid release payload")
		return
	}

	c.mu.Lock()
	unregister := c.claims[claim.Kind]
	delete(c.claims, claim.Kind)
	c.mu.Unlock()
	if unregister != nil {
		unregister()
	}

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"released": claim.Kind,
	})
}

// releaseAll drops every claim the client holds.
func (c *WSClient) releaseAll() {
	c.mu.Lock()
	claims := c.claims
	c.claims = make(map[string]func())
	c.mu.Unlock()

	for _, unregister := range claims {
		unregister()
	}
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subscriptions[WSChannelAll]; ok {
		return true
	}
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(wsOutbound{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
