package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1 << 20 // 1 MB
	reconnectInterval = 5 * time.Second
	maxReconnectDelay = 60 * time.Second
	sendBufferSize    = 256
	maxBackoffShift   = 4
)

// MessageHandler handles incoming WebSocket messages
type MessageHandler interface {
	OnRegistered(reg *model.Registered)
	OnJobDispatch(ctx context.Context, dispatch *model.JobDispatch)
	OnAuthError(reason string)
	OnConnected()
	OnDisconnected()
}

// Client manages the WebSocket connection to the server. On every
// (re)connect it performs the register handshake before anything else.
type Client struct {
	serverURL string
	nodeID    string
	authToken string
	caps      model.Capabilities
	handler   MessageHandler
	parentCtx context.Context

	mu                sync.Mutex
	conn              *websocket.Conn
	send              chan []byte
	connCancel        context.CancelFunc
	stopReconnect     context.CancelFunc // cancels the running reconnectLoop
	connected         bool
	reconnectAttempts int
	authFailed        bool // permanent stop after auth_error
}

// NewClient creates a new WebSocket client.
// The provided ctx controls the client lifetime - cancelling it stops all reconnection.
func NewClient(ctx context.Context, serverURL, nodeID, authToken string, caps model.Capabilities, handler MessageHandler) *Client {
	return &Client{
		serverURL: serverURL,
		nodeID:    nodeID,
		authToken: authToken,
		caps:      caps,
		handler:   handler,
		parentCtx: ctx,
	}
}

// Connect establishes a WebSocket connection to the server.
func (c *Client) Connect() error {
	return c.connect()
}

func (c *Client) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	connCtx, connCancel := context.WithCancel(c.parentCtx)
	send := make(chan []byte, sendBufferSize)

	c.mu.Lock()
	if c.stopReconnect != nil {
		c.stopReconnect()
		c.stopReconnect = nil
	}
	c.conn = conn
	c.send = send
	c.connCancel = connCancel
	c.connected = true
	c.reconnectAttempts = 0
	c.mu.Unlock()

	log.Printf("[ws] connected to %s", c.serverURL)
	c.handler.OnConnected()

	// Each connection gets its own disconnect handler, fired at most once.
	var once sync.Once
	onDisconnect := func() {
		once.Do(func() {
			connCancel()
			conn.Close()

			c.mu.Lock()
			isCurrentConn := c.conn == conn
			if isCurrentConn {
				c.connected = false
				c.conn = nil
			}
			shouldReconnect := isCurrentConn && !c.authFailed && c.parentCtx.Err() == nil
			var reconnectCtx context.Context
			if shouldReconnect {
				reconnectCtx, c.stopReconnect = context.WithCancel(c.parentCtx)
			}
			c.mu.Unlock()

			if isCurrentConn {
				log.Printf("[ws] disconnected from server")
				c.handler.OnDisconnected()
			}
			if shouldReconnect {
				go c.reconnectLoop(reconnectCtx)
			}
		})
	}

	go c.readPump(connCtx, conn, onDisconnect)
	go c.writePump(connCtx, conn, send, onDisconnect)

	// The register message must be the first frame on the wire.
	if err := c.sendJSON(model.Envelope{
		Type: model.MsgTypeRegister,
		Payload: model.RegisterRequest{
			NodeID:       c.nodeID,
			AuthToken:    c.authToken,
			Capabilities: c.caps,
		},
	}); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	return nil
}

// Close permanently closes the connection. No reconnection will be attempted.
// The parent context should be cancelled before calling Close.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.stopReconnect != nil {
		c.stopReconnect()
		c.stopReconnect = nil
	}
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// SendJobResult submits a job result to the server.
func (c *Client) SendJobResult(result *model.JobResult) error {
	return c.sendJSON(model.Envelope{
		Type:    model.MsgTypeJobResult,
		Payload: result,
	})
}

func (c *Client) sendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	c.mu.Lock()
	send := c.send
	c.mu.Unlock()

	if send == nil {
		return fmt.Errorf("not connected")
	}

	select {
	case send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn, onDisconnect func()) {
	defer onDisconnect()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(ctx, message)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte, onDisconnect func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		onDisconnect()
	}()

	for {
		select {
		case message, ok := <-send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) reconnectLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.reconnectAttempts++
		attempts := c.reconnectAttempts
		c.mu.Unlock()

		delay := reconnectInterval * time.Duration(1<<uint(min(attempts-1, maxBackoffShift)))
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}

		log.Printf("[ws] reconnecting in %v (attempt %d)...", delay, attempts)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		if err := c.connect(); err != nil {
			log.Printf("[ws] reconnect failed: %v", err)
			continue
		}

		log.Printf("[ws] reconnected successfully")
		return
	}
}

func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var env struct {
		Type    model.MsgType   `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[ws] invalid message: %v", err)
		return
	}

	switch env.Type {
	case model.MsgTypeRegistered:
		var reg model.Registered
		if err := json.Unmarshal(env.Payload, &reg); err != nil {
			log.Printf("[ws] bad registered payload: %v", err)
			return
		}
		c.handler.OnRegistered(&reg)

	case model.MsgTypeJobDispatch:
		var dispatch model.JobDispatch
		if err := json.Unmarshal(env.Payload, &dispatch); err != nil {
			log.Printf("[ws] bad job_dispatch payload: %v", err)
			return
		}
		c.handler.OnJobDispatch(ctx, &dispatch)

	case model.MsgTypePing:
		if err := c.sendJSON(model.Envelope{Type: model.MsgTypePong}); err != nil {
			log.Printf("[ws] pong send failed: %v", err)
		}

	case model.MsgTypeAuthError:
		var ae model.AuthError
		if err := json.Unmarshal(env.Payload, &ae); err != nil {
			ae.Error = "authentication rejected"
		}
		c.mu.Lock()
		c.authFailed = true
		c.mu.Unlock()
		c.handler.OnAuthError(ae.Error)

	default:
		log.Printf("[ws] unknown message type: %s", env.Type)
	}
}
