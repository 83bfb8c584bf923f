package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/pgdesk/internal/infrastructure/config"
	"github.com/nerrad567/pgdesk/internal/infrastructure/logging"
	"github.com/nerrad567/pgdesk/internal/terminal"
)

// WebSocket constants.
const (
	WSTypeSubscribe      = "subscribe"
	WSTypeUnsubscribe    = "unsubscribe"
	WSTypePing           = "ping"
	WSTypePong           = "pong"
	WSTypeQuery          = "query"
	WSTypeTerminalWrite  = "terminal.write"
	WSTypeTerminalResize = "terminal.resize"
	WSTypeEvent          = "event"
	WSTypeResponse       = "response"
	WSTypeError          = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
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

// TerminalData is the payload of a terminal.data event. Data is raw PTY
// output and is base64 encoded on the wire.
type TerminalData struct {
	Data []byte `json:"data"`
}

// Hub manages WebSocket connections and broadcasts events.
//
// Hub implements terminal.Emitter so the output pump and the query action
// can push straight to connected clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

var _ terminal.Emitter = (*Hub)(nil)

// WSClient represents a connected WebSocket client.
type WSClient struct {
	id            string
	hub           *Hub
	srv           *Server // nil for clients registered directly on the hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

// upgrader returns the WebSocket upgrader, checking the handshake Origin
// against the same allow-list as HTTP requests.
func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
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
	h.logger.Debug("websocket client connected", "client_id", client.id, "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "client_id", client.id, "clients", h.ClientCount())
}

// Emit broadcasts a pushed event. terminal.data payloads are wrapped as
// TerminalData; JSON payloads are forwarded as-is.
func (h *Hub) Emit(event string, payload []byte) {
	if event != terminal.EventData && json.Valid(payload) {
		h.Broadcast(event, json.RawMessage(payload))
		return
	}
	h.Broadcast(event, TerminalData{Data: payload})
}

// Broadcast sends an event to all clients subscribed to the given channel.
// Lock ordering: hub lock is acquired first, then released before per-client
// subscription checks. This avoids holding both hub and client locks simultaneously.
func (h *Hub) Broadcast(channel string, payload any) {
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	recipients := clients[:0]
	for _, client := range clients {
		if client.isSubscribed(channel) {
			recipients = append(recipients, client)
		}
	}
	if len(recipients) == 0 {
		return
	}

	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	for _, client := range recipients {
		if !client.trySend(data) {
			h.disconnectSlow(client, channel)
		}
	}
}

// disconnectSlow drops a client that cannot keep up. Its stream would
// otherwise have a gap, so the client is closed and must reconnect.
func (h *Hub) disconnectSlow(client *WSClient, channel string) {
	h.mu.RLock()
	_, registered := h.clients[client]
	h.mu.RUnlock()
	if !registered {
		return
	}
	h.logger.Warn("websocket client too slow, disconnecting",
		"client_id", client.id,
		"event_type", channel,
		"buffered", len(client.send),
	)
	h.Unregister(client)
	if client.conn != nil {
		client.conn.Close()
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
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		id:            uuid.NewString(),
		hub:           s.hub,
		srv:           s,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
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
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "client_id", c.id, "error", err)
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
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	case WSTypeQuery:
		// Statements can take seconds; keystrokes on the same socket must
		// not queue behind them.
		go c.handleQuery(msg)
	case WSTypeTerminalWrite:
		c.handleTerminalWrite(msg)
	case WSTypeTerminalResize:
		c.handleTerminalResize(msg)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodePayload re-decodes the generic payload into v.
func decodePayload(payload any, v any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// handleSubscribe adds channels to the client's subscription list.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	var sub WSSubscribePayload
	if err := decodePayload(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "client_id", c.id, "channels", sub.Channels)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": sub.Channels,
	})
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	var sub WSSubscribePayload
	if err := decodePayload(msg.Payload, &sub); err != nil {
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

// handleQuery runs a statement and answers with the same body as the
// REST endpoint.
func (c *WSClient) handleQuery(msg WSMessage) {
	if c.srv == nil {
		c.sendError(msg.ID, "commands not available")
		return
	}
	var req QueryRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		c.sendError(msg.ID, "invalid query payload")
		return
	}

	resp, err := c.srv.runQuery(context.Background(), req)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}
	c.sendResponse(msg.ID, WSTypeResponse, resp)
}

// handleTerminalWrite forwards keystrokes and acknowledges with ok.
func (c *WSClient) handleTerminalWrite(msg WSMessage) {
	if c.srv == nil {
		c.sendError(msg.ID, "commands not available")
		return
	}
	var req TerminalWriteRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		c.sendError(msg.ID, "invalid terminal.write payload")
		return
	}

	err := c.srv.commands.WriteTerminal(req.Data)
	if err != nil {
		c.hub.logger.Warn("terminal write failed", "client_id", c.id, "error", err)
	}
	c.sendResponse(msg.ID, WSTypeResponse, ackResponse{OK: err == nil})
}

// handleTerminalResize changes the geometry and acknowledges with ok.
func (c *WSClient) handleTerminalResize(msg WSMessage) {
	if c.srv == nil {
		c.sendError(msg.ID, "commands not available")
		return
	}
	var req TerminalResizeRequest
	if err := decodePayload(msg.Payload, &req); err != nil {
		c.sendError(msg.ID, "invalid terminal.resize payload")
		return
	}

	err := c.srv.commands.ResizeTerminal(req.Rows, req.Cols)
	if err != nil {
		c.hub.logger.Warn("terminal resize failed", "client_id", c.id, "error", err)
	}
	c.sendResponse(msg.ID, WSTypeResponse, ackResponse{OK: err == nil})
}

// trySend attempts to send data to the client's send channel.
// It reports false when the buffer is full or the client has already been
// closed, so the caller can drop the client rather than lose a message.
func (c *WSClient) trySend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil { // send on closed channel
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
