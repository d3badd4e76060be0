package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/motion-core/internal/control"
	"github.com/nerrad567/motion-core/internal/infrastructure/config"
	"github.com/nerrad567/motion-core/internal/infrastructure/logging"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsSendBufferSize is the per-client outbound queue. A loop of short
// movements emits a playback.command every few hundred milliseconds, so a
// client that falls this far behind is dropping frames, not lagging.
const wsSendBufferSize = 256

// wsChannels are the event channels a client may subscribe to.
var wsChannels = map[string]struct{}{
	control.EventPlaybackState:     {},
	control.EventPlaybackCommand:   {},
	control.EventAnalysisCompleted: {},
	control.EventDeviceState:       {},
}

// SnapshotFunc returns the current value of a state channel, sent to a
// client when it subscribes. ok is false for event-only channels.
type SnapshotFunc func(channel string) (payload any, ok bool)

// WSMessage is a message sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a message received from a client. The payload is decoded
// by the handler for its type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans control service events out to WebSocket clients. It implements
// control.Broadcaster.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	clients  map[*WSClient]struct{}
	snapshot SnapshotFunc
}

// WSClient is one connected client.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string // token subject from the ticket; empty when auth is off

	// mu guards subscriptions and closed; send is only written under it.
	mu            sync.RWMutex
	subscriptions map[string]struct{}
	send          chan []byte
	closed        bool

	dropped atomic.Uint64
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. Zero timing settings fall back to the
// configuration defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	defaults := config.Default().WebSocket
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// SetSnapshot sets the function used to greet new subscribers with the
// current state.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close() //nolint:errcheck // shutting down
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", client.subject)
}

// Unregister removes a client and closes its send queue.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	client.close()
	h.logger.Debug("websocket client disconnected",
		"clients", n,
		"dropped", client.dropped.Load(),
	)
}

// Broadcast queues an event for every client subscribed to channel. It
// never blocks: a full client queue drops the event for that client.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeEvent(channel, payload)
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.isSubscribed(channel) {
			c.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encodeEvent(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
}

// handleWebSocket upgrades the connection. With auth enabled a ticket
// query parameter (from POST /auth/ws-ticket) is required.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var entry ticketEntry
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		var ok bool
		if entry, ok = s.tickets.consume(ticket, time.Now()); !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r))
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		subject:       entry.subject,
		subscriptions: make(map[string]struct{}),
		send:          make(chan []byte, wsSendBufferSize),
	}
	s.hub.Register(client)

	go client.writePump(s.hub.cfg)
	go client.readPump(s.hub.cfg)
}

// readPump reads client messages until the connection fails.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close() //nolint:errcheck // already failing
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any message counts.
		extend() //nolint:errcheck // a failed deadline surfaces as a read error
		c.handleMessage(data)
	}
}

// writePump drains the send queue and pings the client.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // writer is done
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write reports failures
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // best effort
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(req)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(req)
	case WSTypePing:
		c.sendResponse(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

// channels decodes a subscribe/unsubscribe payload.
func (c *WSClient) channels(req wsRequest) ([]string, bool) {
	var sub WSSubscribePayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &sub) != nil {
		c.sendError(req.ID, "invalid "+req.Type+" payload")
		return nil, false
	}
	return sub.Channels, true
}

// handleSubscribe adds channels and then sends the current value of each
// state channel, so a new client does not wait for the next change.
func (c *WSClient) handleSubscribe(req wsRequest) {
	channels, ok := c.channels(req)
	if !ok {
		return
	}
	for _, ch := range channels {
		if _, known := wsChannels[ch]; !known {
			c.sendError(req.ID, "unknown channel: "+ch)
			return
		}
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.sendResponse(req.ID, WSTypeResponse, map[string]any{"subscribed": channels})

	c.hub.mu.RLock()
	snapshot := c.hub.snapshot
	c.hub.mu.RUnlock()
	if snapshot == nil {
		return
	}
	for _, ch := range channels {
		payload, ok := snapshot(ch)
		if !ok {
			continue
		}
		if data, err := encodeEvent(ch, payload); err == nil {
			c.trySend(data)
		}
	}
}

func (c *WSClient) handleUnsubscribe(req wsRequest) {
	channels, ok := c.channels(req)
	if !ok {
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(req.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// trySend queues data without blocking. Data for a closed client is
// discarded; data for a full queue is dropped and counted.
func (c *WSClient) trySend(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.dropped.Add(1)
	}
}

// close closes the send queue once, ending writePump.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
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

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
