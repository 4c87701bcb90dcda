package network

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/CheeseClicker/server/internal/engine"
	"github.com/MRamiBalles/CheeseClicker/server/internal/gate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

// ClientMessage is an incoming command tagged with a caller-chosen request id.
type ClientMessage struct {
	RequestID string `json:"request_id,omitempty"`
	engine.Command
}

// Reply answers one ClientMessage.
type Reply struct {
	RequestID string             `json:"request_id,omitempty"`
	Type      engine.CommandType `json:"type"`
	Result    interface{}        `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Code      string             `json:"code,omitempty"`
}

// Error codes carried in replies.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeUnknownUpgrade    = "UNKNOWN_UPGRADE"
	CodeGateAbandoned     = "GATE_ABANDONED"
	CodeRequestPending    = "REQUEST_PENDING"
	CodePurchaseLimit     = "PURCHASE_LIMIT"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL"
)

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// Gated commands wait on the player; they run with ctx and are abandoned on disconnect.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	windowStart time.Time
	windowCount int
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.clientBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// enqueue queues a message without blocking. It reports false when the client is
// gone or its buffer is full.
func (c *Client) enqueue(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// ReadPump pumps messages from the websocket connection to the engine.
func (c *Client) ReadPump() {
	defer func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.close()
		c.conn.Close()
		c.wg.Wait()
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
				c.hub.metrics.RecordWSError()
				c.hub.logger.Warnf("WebSocket read failed: %v", err)
			}
			return
		}
		c.hub.metrics.RecordWSMessage(true)

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.metrics.RecordWSError()
			c.reply(Reply{Error: "malformed message: " + err.Error(), Code: CodeBadRequest})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg ClientMessage) {
	if !c.allow(time.Now()) {
		c.hub.logger.Warn("Rate limit exceeded for client action " + string(msg.Type))
		c.reply(Reply{RequestID: msg.RequestID, Type: msg.Type, Error: "too many actions", Code: CodeRateLimited})
		return
	}

	if !msg.Blocking() {
		c.dispatch(msg)
		return
	}
	// The gate may wait for a quiz answer that arrives on this same connection.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dispatch(msg)
	}()
}

func (c *Client) dispatch(msg ClientMessage) {
	result, err := c.hub.engine.Dispatch(c.ctx, msg.Command)
	r := Reply{RequestID: msg.RequestID, Type: msg.Type, Result: result}
	if err != nil {
		r.Result = nil
		r.Error = err.Error()
		r.Code = ErrorCode(err)
	}
	c.reply(r)
}

// allow enforces maxActions per one-second window. Zero disables the limit.
func (c *Client) allow(now time.Time) bool {
	if c.hub.maxActions <= 0 {
		return true
	}
	if now.Sub(c.windowStart) >= time.Second {
		c.windowStart = now
		c.windowCount = 0
	}
	c.windowCount++
	return c.windowCount <= c.hub.maxActions
}

func (c *Client) reply(r Reply) {
	message, err := json.Marshal(ServerMessage{Kind: KindReply, Reply: &r})
	if err != nil {
		c.hub.logger.Errorf("Failed to serialize reply to %s: %v", r.Type, err)
		return
	}
	if !c.enqueue(message) {
		c.hub.logger.Warn("Reply to " + string(r.Type) + " dropped, client send buffer full")
	}
}

// ErrorCode maps an engine error to the code carried in replies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, engine.ErrUnknownUpgrade):
		return CodeUnknownUpgrade
	case errors.Is(err, engine.ErrGateAbandoned):
		return CodeGateAbandoned
	case errors.Is(err, engine.ErrRequestPending):
		return CodeRequestPending
	case errors.Is(err, engine.ErrPurchaseLimit):
		return CodePurchaseLimit
	case errors.Is(err, engine.ErrOfferNotFound), errors.Is(err, gate.ErrPromptNotFound),
		errors.Is(err, engine.ErrUnknownLanguage):
		return CodeNotFound
	case errors.Is(err, engine.ErrNothingToSell), errors.Is(err, engine.ErrInvalidCount),
		errors.Is(err, engine.ErrResetNotConfirmed), errors.Is(err, engine.ErrUnknownCommand),
		errors.Is(err, engine.ErrGateUnavailable), errors.Is(err, gate.ErrInvalidChoice):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.metrics.RecordWSError()
				return
			}
			c.hub.metrics.RecordWSMessage(false)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
