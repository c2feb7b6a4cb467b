package network

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mewhaven/catnip-server/internal/engine"
	"github.com/mewhaven/catnip-server/internal/platform/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
	// Minimum spacing between gameplay actions from one connection.
	actionCooldown = 100 * time.Millisecond
)

// ClientAction represents an incoming command from a connected client.
// ContextID identifies the triggering interaction on the client side and is
// echoed through purchase traces; it is optional.
type ClientAction struct {
	Type          string `json:"type"` // "JOIN", "LEAVE", "BUY_FIELD", "RESET", "STATUS"
	ParticipantID string `json:"participant_id"`
	ContextID     string `json:"context_id,omitempty"`
}

// envelope wraps every outbound message with a type tag.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Client holds one WebSocket connection and the participant it has joined
// as, if any.
//
// The send channel is written by both the hub (broadcasts) and the read pump
// (direct replies); sendMu/sendClosed keep those writers from racing the
// hub's close.
type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	sendMu         sync.Mutex
	sendClosed     bool
	participantID  string
	lastActionTime time.Time
}

// trySend queues a payload for the write pump. Returns false when the
// channel is closed or full.
func (c *Client) trySend(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend shuts the outbound channel exactly once.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// NewClient creates a new WebSocket client and returns it.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Register adds the client to the hub.
func (c *Client) Register() {
	c.hub.register <- c
}

// leaveIfJoined evicts the client's participant when the connection drops
// without an explicit LEAVE. Leave is idempotent, so a race with an explicit
// LEAVE is harmless.
func (c *Client) leaveIfJoined() {
	if c.participantID == "" {
		return
	}
	if err := c.hub.engine.Leave(context.Background(), c.participantID); err != nil {
		c.hub.logger.Warnf("implicit leave failed for %s: %v", c.participantID, err)
	}
	c.participantID = ""
}

// ReadPump pumps messages from the websocket connection to the engine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
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
				log.Printf("error: %v", err)
			}
			break
		}

		var action ClientAction
		if err := json.Unmarshal(message, &action); err != nil {
			c.hub.logger.Errorf("Failed to parse ClientAction from WebSocket: %v", err)
			metrics.Get().RecordWSError()
			continue
		}

		metrics.Get().RecordWSMessage(true)
		c.handleAction(action)
	}
}

func (c *Client) handleAction(action ClientAction) {
	if action.ParticipantID == "" {
		c.sendError("participant_id is required")
		return
	}

	// Rate limit gameplay actions; queries are exempt.
	switch action.Type {
	case "BUY_FIELD", "RESET":
		if time.Since(c.lastActionTime) < actionCooldown {
			c.hub.logger.Warnf("Rate limit exceeded for %s from %s", action.Type, action.ParticipantID)
			c.sendError("too many actions")
			return
		}
		c.lastActionTime = time.Now()
	}

	switch action.Type {
	case "JOIN":
		c.handleJoin(action.ParticipantID)
	case "LEAVE":
		c.handleLeave(action.ParticipantID)
	case "BUY_FIELD":
		c.handleBuyField(action.ParticipantID, action.ContextID)
	case "RESET":
		c.handleReset(action.ParticipantID)
	case "STATUS":
		c.handleStatus(action.ParticipantID)
	default:
		c.hub.logger.Warnf("Unknown ClientAction type: %s", action.Type)
		c.sendError("unknown action type")
	}
}

func (c *Client) handleJoin(participantID string) {
	state, err := c.hub.engine.Join(context.Background(), participantID)
	if err != nil && err != engine.ErrEngineStopped {
		// Degraded persistence: the participant is still playable.
		c.hub.logger.Warnf("join for %s completed with degraded persistence: %v", participantID, err)
	}
	if err == engine.ErrEngineStopped {
		c.sendError("server shutting down")
		return
	}
	c.participantID = participantID
	c.reply("JOINED", map[string]interface{}{
		"participant_id": participantID,
		"state":          state,
	})
}

func (c *Client) handleLeave(participantID string) {
	if err := c.hub.engine.Leave(context.Background(), participantID); err != nil {
		c.sendError("server shutting down")
		return
	}
	if c.participantID == participantID {
		c.participantID = ""
	}
	c.reply("LEFT", map[string]interface{}{"participant_id": participantID})
}

func (c *Client) handleBuyField(participantID, contextID string) {
	result, err := c.hub.engine.RequestPurchase(participantID, contextID)
	if err != nil {
		if err == engine.ErrParticipantNotActive {
			c.sendError("participant not active")
		} else {
			c.sendError("server shutting down")
		}
		return
	}
	c.reply("PURCHASE_RESULT", map[string]interface{}{
		"participant_id": participantID,
		"result":         result,
	})
}

func (c *Client) handleReset(participantID string) {
	state, err := c.hub.engine.ResetProgress(participantID)
	if err != nil {
		if err == engine.ErrParticipantNotActive {
			c.sendError("participant not active")
		} else {
			c.sendError("server shutting down")
		}
		return
	}
	c.reply("RESET_DONE", map[string]interface{}{
		"participant_id": participantID,
		"state":          state,
	})
}

func (c *Client) handleStatus(participantID string) {
	state, err := c.hub.engine.StateOf(participantID)
	if err != nil {
		if err == engine.ErrParticipantNotActive {
			c.sendError("participant not active")
		} else {
			c.sendError("server shutting down")
		}
		return
	}
	c.reply("PARTICIPANT_STATE", map[string]interface{}{
		"participant_id": participantID,
		"state":          state,
	})
}

func (c *Client) reply(msgType string, data interface{}) {
	payload, err := json.Marshal(envelope{Type: msgType, Data: data})
	if err != nil {
		c.hub.logger.Errorf("Failed to serialize %s reply: %v", msgType, err)
		return
	}
	if c.trySend(payload) {
		metrics.Get().RecordWSMessage(false)
	} else {
		metrics.Get().RecordWSError()
	}
}

func (c *Client) sendError(msg string) {
	c.reply("ERROR", map[string]string{"message": msg})
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
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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
