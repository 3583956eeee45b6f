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
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/events"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	// Server -> Client messages
	MsgTypeSignal     MessageType = "signal"
	MsgTypeBacktest   MessageType = "backtest"
	MsgTypeComparison MessageType = "comparison"
	MsgTypeProgress   MessageType = "comparison_progress"
	MsgTypeHeartbeat  MessageType = "heartbeat"
	MsgTypePong       MessageType = "pong"
	MsgTypeError      MessageType = "error"

	// Client -> Server messages
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
	MsgTypePing        MessageType = "ping"
)

// Channels clients can subscribe to. Per-symbol variants append
// ":SYMBOL", e.g. "signals:AAPL".
const (
	ChannelSignals     = "signals"
	ChannelBacktests   = "backtests"
	ChannelComparisons = "comparisons"
)

// WSMessage is a WebSocket message.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is a WebSocket client connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub manages WebSocket connections and channel subscriptions.
type Hub struct {
	logger    *zap.Logger
	clients   map[*Client]bool
	channels  map[string]map[*Client]bool
	heartbeat time.Duration
	closed    bool
	mu        sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:    logger.Named("websocket"),
		clients:   make(map[*Client]bool),
		channels:  make(map[string]map[*Client]bool),
		heartbeat: 30 * time.Second,
	}
}

// Run sends heartbeats until ctx is cancelled, then disconnects every
// client and refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			return

		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

// remove drops a client from the hub. The caller holds h.mu.
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	websocketClients.Dec()

	client.mu.RLock()
	for channel := range client.subscriptions {
		if clients, ok := h.channels[channel]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	client.mu.RUnlock()
}

// sendHeartbeat sends heartbeat to all clients.
func (h *Hub) sendHeartbeat() {
	data, _ := json.Marshal(WSMessage{
		Type:      MsgTypeHeartbeat,
		Timestamp: time.Now().UnixMilli(),
	})

	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
	h.mu.RUnlock()
}

// Subscribe subscribes a client to a channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()

	h.logger.Debug("Client subscribed to channel",
		zap.String("client", client.id),
		zap.String("channel", channel))
}

// Unsubscribe unsubscribes a client from a channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// PublishToChannel publishes a message to every subscriber of a channel.
// Slow clients whose buffer is full miss the message.
func (h *Hub) PublishToChannel(channel string, msgType MessageType, data any) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal message data", zap.Error(err))
		return
	}

	msgBytes, err := json.Marshal(WSMessage{
		Type:      msgType,
		Channel:   channel,
		Data:      dataBytes,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[channel] {
		select {
		case client.send <- msgBytes:
		default:
		}
	}
}

// HandleEvent pushes a bus event to the general and per-symbol channel of
// its type.
func (h *Hub) HandleEvent(event events.Event) error {
	var (
		channel string
		msgType MessageType
	)
	switch event.Type {
	case events.EventTypeSignal:
		channel, msgType = ChannelSignals, MsgTypeSignal
	case events.EventTypeBacktest:
		channel, msgType = ChannelBacktests, MsgTypeBacktest
	case events.EventTypeComparison:
		channel, msgType = ChannelComparisons, MsgTypeComparison
	default:
		return nil
	}

	h.PublishToChannel(channel, msgType, event.Payload)
	if event.Symbol != "" {
		h.PublishToChannel(channel+":"+event.Symbol, msgType, event.Payload)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Connect registers an upgraded connection and starts its pumps.
// Channels are subscribed before the client can receive anything.
func (h *Hub) Connect(conn *websocket.Conn, channels []string) *Client {
	client := &Client{
		id:            uuid.NewString(),
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return client
	}
	h.clients[client] = true
	h.mu.Unlock()
	websocketClients.Inc()
	h.logger.Debug("Client registered", zap.String("id", client.id))

	for _, channel := range channels {
		h.Subscribe(client, channel)
	}

	go client.WritePump()
	go client.ReadPump()
	return client
}

// ServeWS upgrades the request. The optional "channels" query parameter is
// a comma separated list of channels to subscribe to immediately.
func (h *Hub) ServeWS(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
			return
		}

		var channels []string
		for _, ch := range strings.Split(r.URL.Query().Get("channels"), ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				channels = append(channels, ch)
			}
		}
		h.Connect(conn, channels)
	}
}

// reply sends a direct answer to this client.
func (c *Client) reply(msg WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// ReadPump reads client messages until the connection fails.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.mu.Lock()
		c.hub.remove(c)
		c.hub.mu.Unlock()
		c.conn.Close()
		c.hub.logger.Debug("Client unregistered", zap.String("id", c.id))
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(WSMessage{Type: MsgTypeError, Data: errorData("invalid message")})
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.hub.Subscribe(c, msg.Channel)
			c.reply(WSMessage{Type: MsgTypeSubscribe, ID: msg.ID, Channel: msg.Channel})
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
			c.reply(WSMessage{Type: MsgTypeUnsubscribe, ID: msg.ID, Channel: msg.Channel})
		case MsgTypePing:
			c.reply(WSMessage{Type: MsgTypePong, ID: msg.ID})
		default:
			c.reply(WSMessage{Type: MsgTypeError, ID: msg.ID, Data: errorData("unknown message type")})
		}
	}
}

// WritePump writes queued messages, one frame each, and pings the peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func errorData(message string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": message})
	return data
}
