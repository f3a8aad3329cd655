package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mosys-billing/tvfleet/internal/device"
	"github.com/mosys-billing/tvfleet/internal/dispatch"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/config"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/logging"
	"github.com/mosys-billing/tvfleet/internal/scan"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels besides the registry event types.
const (
	ChannelCommandOutcome = "command.outcome"
	ChannelScanCompleted  = "scan.completed"
)

const wsQueueLen = 256

var allChannels = []string{
	string(device.EventAdded),
	string(device.EventRemoved),
	string(device.EventEdited),
	string(device.EventStatusChanged),
	ChannelCommandOutcome,
	ChannelScanCompleted,
}

// WSMessage is the envelope of every frame sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a frame received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

type channelSet map[string]struct{}

// parseChannels reads a comma-separated list. Blank input selects every
// channel.
func parseChannels(list string) channelSet {
	set := make(channelSet)
	for _, ch := range strings.Split(list, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			set[ch] = struct{}{}
		}
	}
	if len(set) == 0 {
		for _, ch := range allChannels {
			set[ch] = struct{}{}
		}
	}
	return set
}

// wsTimings are the keepalive settings in usable units.
type wsTimings struct {
	readLimit int64
	pingEvery time.Duration
	idle      time.Duration
	writeWait time.Duration
}

func timingsFrom(cfg config.WebSocketConfig) wsTimings {
	ping := time.Duration(cfg.PingInterval) * time.Second
	pong := time.Duration(cfg.PongTimeout) * time.Second
	return wsTimings{
		readLimit: int64(cfg.MaxMessageSize),
		pingEvery: ping,
		idle:      ping + pong,
		writeWait: pong,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by corsMiddleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans fleet events out to subscribed WebSocket clients.
type Hub struct {
	timings wsTimings
	logger  *logging.Logger

	mu      sync.RWMutex
	clients map[string]*WSClient
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	id   string
	conn *websocket.Conn
	out  chan []byte

	mu       sync.Mutex
	channels channelSet
	closed   bool
}

func newWSClient(conn *websocket.Conn, channels channelSet) *WSClient {
	return &WSClient{
		id:       uuid.NewString(),
		conn:     conn,
		out:      make(chan []byte, wsQueueLen),
		channels: channels,
	}
}

// NewHub creates a hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		timings: timingsFrom(cfg),
		logger:  logger,
		clients: make(map[string]*WSClient),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*WSClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.shut()
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client", c.id, "clients", n)
}

// Unregister removes a client and closes its queue.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	c.shut()
	h.logger.Debug("websocket client disconnected", "client", c.id, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues payload for every client subscribed to channel. A
// client whose queue is full misses the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.wants(channel) && !c.deliver(data) {
			h.logger.Debug("websocket client lagging, event dropped", "client", c.id, "channel", channel)
		}
	}
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

func (c *WSClient) wants(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// deliver queues data without blocking. It reports false when the
// client is closed or its queue is full.
func (c *WSClient) deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

// shut closes the queue once. The write loop then sends a close frame.
func (c *WSClient) shut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := encodeFrame(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err == nil {
		c.deliver(data)
	}
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}

// broadcastDeviceEvent relays registry events. It runs under the
// registry's per-address lock, so it only queues.
func (s *Server) broadcastDeviceEvent(ev device.Event) {
	s.hub.Broadcast(string(ev.Type), ev)
}

func (s *Server) broadcastOutcome(ev dispatch.OutcomeEvent) {
	s.hub.Broadcast(ChannelCommandOutcome, ev)
}

func (s *Server) broadcastScan(snap *scan.Snapshot) {
	s.hub.Broadcast(ChannelScanCompleted, snap)
}

// handleWebSocket upgrades the connection. The optional channels query
// parameter narrows the subscription.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channels := parseChannels(r.URL.Query().Get("channels"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(conn, channels)
	s.hub.Register(c)

	go s.hub.writeLoop(c)
	go s.hub.readLoop(c)
}

func (h *Hub) readLoop(c *WSClient) {
	defer func() {
		h.Unregister(c)
		c.conn.Close()
	}()

	t := h.timings
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(t.idle)) }

	c.conn.SetReadLimit(t.readLimit)
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "client", c.id, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // a failed deadline surfaces on the next read
		c.handle(frame)
	}
}

func (h *Hub) writeLoop(c *WSClient) {
	t := h.timings
	ticker := time.NewTicker(t.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(t.writeWait)) //nolint:errcheck // the write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.out:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // peer may already be gone
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(frame []byte) {
	var req wsRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.resubscribe(req)
	default:
		c.replyError(req.ID, "unknown message type: "+req.Type)
	}
}

func (c *WSClient) resubscribe(req wsRequest) {
	var body WSSubscribePayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &body) != nil {
		c.replyError(req.ID, "invalid "+req.Type+" payload")
		return
	}

	add := req.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range body.Channels {
		if add {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{key: body.Channels})
}
