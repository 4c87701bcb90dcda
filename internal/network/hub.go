// Package network streams economy signals to UI clients over WebSocket and turns
// their messages into engine commands.
package network

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/CheeseClicker/server/internal/engine"
	"github.com/MRamiBalles/CheeseClicker/server/internal/events"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/metrics"
)

// Message kinds sent to clients.
const (
	KindHello = "hello" // First message, carries the current state
	KindEvent = "event"
	KindReply = "reply"
)

// ServerMessage is the envelope of everything the hub writes.
type ServerMessage struct {
	Kind  string            `json:"kind"`
	Event *events.GameEvent `json:"event,omitempty"`
	Reply *Reply            `json:"reply,omitempty"`
	State *engine.Snapshot  `json:"state,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // The UI runs from a local dev server on another port
	},
}

// Hub maintains the set of active clients and broadcasts every event to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	mu         sync.Mutex

	engine  *engine.Engine
	logger  *logger.Logger
	metrics *metrics.Collector

	subscriberBuffer int
	clientBuffer     int
	maxActions       int
}

// NewHub initializes a hub for eng. Buffer sizes and the action limit come from the
// engine's server configuration.
func NewHub(eng *engine.Engine, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	sc := eng.Config().Server
	h := &Hub{
		clients:          make(map[*Client]bool),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		quit:             make(chan struct{}),
		engine:           eng,
		logger:           log,
		metrics:          eng.Metrics(),
		subscriberBuffer: sc.SubscriberBuffer,
		clientBuffer:     sc.ClientSendBuffer,
		maxActions:       sc.MaxActionsPerSecond,
	}
	if h.subscriberBuffer <= 0 {
		h.subscriberBuffer = 256
	}
	if h.clientBuffer <= 0 {
		h.clientBuffer = 64
	}
	return h
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	feed, cancel := h.engine.GetEventLog().Subscribe(h.subscriberBuffer)
	defer cancel()
	defer close(h.quit)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub shutting down.")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.RecordWSConnection(1)
			h.logger.Info("New WebSocket client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.dropLocked(client)
				h.logger.Info("WebSocket client disconnected")
			}
			h.mu.Unlock()
		case event, ok := <-feed:
			if !ok {
				return
			}
			h.broadcast(event)
		}
	}
}

func (h *Hub) broadcast(event events.GameEvent) {
	message, err := json.Marshal(ServerMessage{Kind: KindEvent, Event: &event})
	if err != nil {
		h.logger.Errorf("Failed to serialize %s for WebSocket broadcast: %v", event.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.enqueue(message) {
			h.logger.Warn("Dropping slow WebSocket client")
			h.dropLocked(client)
		}
	}
}

func (h *Hub) dropLocked(c *Client) {
	delete(h.clients, c)
	c.close()
	h.metrics.RecordWSConnection(-1)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches a client. Run must be active.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RecordWSError()
		h.logger.Warnf("Failed to upgrade websocket connection: %v", err)
		return
	}

	client := newClient(h, conn)
	snap := h.engine.Ledger().Snapshot()
	if hello, err := json.Marshal(ServerMessage{Kind: KindHello, State: &snap}); err == nil {
		client.enqueue(hello)
	}

	select {
	case h.register <- client:
	case <-h.quit:
		conn.Close()
		return
	}

	// All further work happens in the pumps.
	go client.WritePump()
	go client.ReadPump()
}
