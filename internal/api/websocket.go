package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-backtester/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	// Server -> Client messages
	MsgTypeProgress  MessageType = "backtest:progress"
	MsgTypeComplete  MessageType = "backtest:complete"
	MsgTypeFailed    MessageType = "backtest:error"
	MsgTypeHeartbeat MessageType = "heartbeat"
	MsgTypePong      MessageType = "pong"

	// Client -> Server messages
	MsgTypePing MessageType = "ping"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 65536
	sendBuffer     = 256
)

// WSMessage is a WebSocket message.
type WSMessage struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// CompletionEvent is the payload of backtest:complete
type CompletionEvent struct {
	ID           string                `json:"id"`
	StrategyID   string                `json:"strategyId"`
	Symbol       string                `json:"symbol"`
	FinalBalance decimal.Decimal       `json:"finalBalance"`
	Metrics      types.BacktestMetrics `json:"metrics"`
}

// Client is a WebSocket client connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans backtest events out to connected WebSocket clients.
type Hub struct {
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	clients    map[*Client]bool
	broadcast  chan []byte
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	// OnClientCount is called with the client count after every change
	OnClientCount func(int)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run dispatches unregistrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.countChanged()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.countChanged()
			h.logger.Debug("Client unregistered", zap.String("id", client.id))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow consumer
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.Broadcast(MsgTypeHeartbeat, nil)
		}
	}
}

func (h *Hub) countChanged() {
	if h.OnClientCount != nil {
		h.OnClientCount(h.ClientCount())
	}
}

// ServeWS upgrades the request and attaches the connection to the hub
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	// registered before the read pump starts, so the first ping already gets a pong
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		conn.Close()
		return
	default:
	}
	h.clients[client] = true
	h.mu.Unlock()
	h.countChanged()

	h.logger.Info("WebSocket client connected", zap.String("id", client.id))

	go client.writePump()
	go client.readPump()
}

func encodeMessage(msgType MessageType, id string, data interface{}) ([]byte, error) {
	msg := WSMessage{
		ID:        id,
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// Broadcast sends a message to all clients.
func (h *Hub) Broadcast(msgType MessageType, data interface{}) {
	msgBytes, err := encodeMessage(msgType, "", data)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msgBytes:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", zap.String("type", string(msgType)))
	}
}

// BroadcastProgress publishes a progress report of a running backtest
func (h *Hub) BroadcastProgress(p types.BacktestProgress) {
	h.Broadcast(MsgTypeProgress, p)
}

// BacktestCompleted publishes a backtest:complete event
func (h *Hub) BacktestCompleted(result *types.BacktestResult) {
	h.Broadcast(MsgTypeComplete, CompletionEvent{
		ID:           result.ID,
		StrategyID:   result.StrategyID,
		Symbol:       result.Symbol,
		FinalBalance: result.FinalBalance,
		Metrics:      result.Metrics,
	})
}

// BacktestFailed publishes a backtest:error event
func (h *Hub) BacktestFailed(err error) {
	h.Broadcast(MsgTypeFailed, map[string]string{"error": err.Error()})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump pumps messages from the WebSocket to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case MsgTypePing:
			c.reply(MsgTypePong, msg.ID)
		default:
			c.hub.logger.Debug("Ignoring client message",
				zap.String("client", c.id),
				zap.String("type", string(msg.Type)))
		}
	}
}

func (c *Client) reply(msgType MessageType, id string) {
	data, err := encodeMessage(msgType, id, nil)
	if err != nil {
		return
	}

	// the hub owns send and may close it concurrently
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

// writePump pumps messages from the hub to the WebSocket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
