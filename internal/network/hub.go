package network

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mewhaven/catnip-server/internal/engine"
	"github.com/mewhaven/catnip-server/internal/events"
	"github.com/mewhaven/catnip-server/internal/platform/logger"
	"github.com/mewhaven/catnip-server/internal/platform/metrics"
)

// Hub maintains the set of active clients and broadcasts state updates to
// them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
	engine     *engine.Engine
	logger     *logger.Logger
}

// NewHub initializes a new WebSocket Hub bound to the simulation engine.
func NewHub(eng *engine.Engine, log *logger.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		engine:     eng,
		logger:     log,
	}
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket Hub shutting down.")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.Get().RecordWSConnection(1)
			h.logger.Info("New WebSocket client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
				metrics.Get().RecordWSConnection(-1)
				h.logger.Info("WebSocket client disconnected")
			}
			h.mu.Unlock()
			client.leaveIfJoined()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.trySend(message) {
					client.closeSend()
					delete(h.clients, client)
					metrics.Get().RecordWSConnection(-1)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastUpdate serializes a StateUpdate and sends it to all connected
// clients. Every participant's updates go to every client; clients filter by
// participant_id on their side.
func (h *Hub) BroadcastUpdate(update events.StateUpdate) {
	payload, err := json.Marshal(envelope{Type: "STATE_UPDATE", Data: update})
	if err != nil {
		h.logger.Errorf("Failed to serialize StateUpdate for WebSocket broadcast: %v", err)
		return
	}
	select {
	case h.broadcast <- payload:
		metrics.Get().RecordWSMessage(false)
	default:
		metrics.Get().RecordWSError()
	}
}

// StartUpdateFeed subscribes the Hub to the notification bus and relays
// every update to connected clients until ctx is cancelled.
func (h *Hub) StartUpdateFeed(ctx context.Context, bus *events.Bus) {
	updates, cancel := bus.Subscribe(256)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				h.BroadcastUpdate(update)
			}
		}
	}()
}

// ServeWS upgrades an accepted connection into a managed client and starts
// its pumps.
func (h *Hub) ServeWS(conn *websocket.Conn) {
	client := NewClient(h, conn)
	client.Register()
	go client.WritePump()
	go client.ReadPump()
}
