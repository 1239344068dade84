package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the node to send its register message.
	registerWait = 10 * time.Second

	// Time allowed to read the next message from the peer. Refreshed by
	// any inbound traffic, including pong replies.
	readWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20 // 1 MB

	// Send buffer size
	sendBufSize = 256
)

// Client represents a single WebSocket connection from a provider node.
type Client struct {
	NodeID string
	UserID string // owner of the agent token used to register

	rawToken string // re-validated on every keep-alive tick
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte
	done     chan struct{}

	keepAlive time.Duration
}

// NewClient wraps an upgraded WebSocket connection. The client has no
// identity until Run completes the register handshake.
func NewClient(conn *websocket.Conn, hub *Hub, keepAlive time.Duration) *Client {
	return &Client{
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, sendBufSize),
		done:      make(chan struct{}),
		keepAlive: keepAlive,
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.conn.Close()
}

// Run performs the register handshake, then starts the write pump and
// keep-alive loop and blocks reading until the connection closes.
func (c *Client) Run(ctx context.Context) {
	if err := c.handshake(ctx); err != nil {
		log.Printf("[ws] register handshake failed: %v", err)
		c.sendAuthError(err.Error())
		c.conn.Close()
		return
	}

	c.hub.Register(c)
	c.hub.composer.NetworkChanged(ctx)

	go c.writePump()
	go c.keepAliveLoop(ctx)
	c.readPump(ctx) // blocks

	c.Close()
	c.hub.Unregister(c)
	if err := c.hub.registry.MarkInactive(ctx, c.NodeID); err != nil {
		log.Printf("[ws] mark node %s inactive error: %v", c.NodeID, err)
	}
	c.hub.composer.NetworkChanged(ctx)
}

// handshake reads the first frame, which must be a register message
// carrying a valid agent token.
func (c *Client) handshake(ctx context.Context) error {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(registerWait))

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return errors.New("no register message received")
	}

	var env struct {
		Type    model.MsgType   `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != model.MsgTypeRegister {
		return errors.New("expected register message")
	}
	var req model.RegisterRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errors.New("bad register payload")
	}
	if req.NodeID == "" {
		return errors.New("node_id is required")
	}

	token, err := c.hub.tokens.Validate(ctx, req.AuthToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return err
		}
		return errors.New("token validation failed")
	}

	if _, err := c.hub.registry.Register(ctx, req.NodeID, token.UserID, req.Capabilities); err != nil {
		return errors.New("node registration failed")
	}

	c.NodeID = req.NodeID
	c.UserID = token.UserID
	c.rawToken = req.AuthToken

	owner := "anonymous"
	if u, err := c.hub.users.GetByID(ctx, token.UserID); err == nil {
		owner = u.Nickname
	}
	c.enqueue(model.Envelope{
		Type:    model.MsgTypeRegistered,
		Payload: model.Registered{Status: "ok", Owner: owner},
	})
	return nil
}

// ─────────────────────────────────────────────
// Read pump: Node → Server
// ─────────────────────────────────────────────

func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] node %s read error: %v", c.NodeID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		c.handleMessage(ctx, message)
	}
}

func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	// A malformed or hostile frame must never take down the pump.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ws] node %s: panic handling message: %v", c.NodeID, r)
		}
	}()

	var env struct {
		Type    model.MsgType   `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("[ws] node %s: invalid message: %v", c.NodeID, err)
		return
	}

	switch env.Type {
	case model.MsgTypeJobResult:
		var res model.JobResult
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			log.Printf("[ws] node %s: bad job_result payload: %v", c.NodeID, err)
			return
		}
		c.hub.HandleJobResult(ctx, c, &res)

	case model.MsgTypePong:
		// Liveness credit is granted by the keep-alive loop; the pong
		// already refreshed the read deadline.

	default:
		log.Printf("[ws] node %s: unknown message type: %s", c.NodeID, env.Type)
	}
}

// ─────────────────────────────────────────────
// Keep-alive: token re-validation + heartbeat
// ─────────────────────────────────────────────

// keepAliveLoop re-validates the agent token, touches the node's
// heartbeat and pings the peer on every tick. A revoked token kills the
// connection mid-flight.
func (c *Client) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if _, err := c.hub.tokens.Validate(ctx, c.rawToken); err != nil {
				log.Printf("[ws] node %s: token no longer valid, closing", c.NodeID)
				c.enqueue(model.Envelope{
					Type:    model.MsgTypeAuthError,
					Payload: model.AuthError{Error: "agent token revoked"},
				})
				// Give the write pump a moment to flush before closing.
				time.Sleep(100 * time.Millisecond)
				c.Close()
				return
			}
			if err := c.hub.registry.Touch(ctx, c.NodeID); err != nil {
				log.Printf("[ws] node %s: heartbeat touch error: %v", c.NodeID, err)
			}
			c.enqueue(model.Envelope{Type: model.MsgTypePing})
		}
	}
}

// ─────────────────────────────────────────────
// Write pump: Server → Node
// ─────────────────────────────────────────────

func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}
}

func (c *Client) enqueue(env model.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[ws] marshal %s error: %v", env.Type, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[ws] send buffer full for node %s, dropping %s", c.NodeID, env.Type)
	}
}

func (c *Client) sendAuthError(msg string) {
	data, err := json.Marshal(model.Envelope{
		Type:    model.MsgTypeAuthError,
		Payload: model.AuthError{Error: msg},
	})
	if err != nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.TextMessage, data)
}
