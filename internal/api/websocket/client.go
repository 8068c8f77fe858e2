package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message after connecting
	authWait = 10 * time.Second

	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	// endpoint ids the client subscribed to; empty means all
	endpoints map[string]struct{}
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// enqueue hands data to the write pump without blocking. It reports false when
// the buffer is full or the client was already closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) wants(endpointID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.endpoints) == 0 || endpointID == "" {
		return true
	}
	_, ok := c.endpoints[endpointID]
	return ok
}

func (c *Client) subscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c.endpoints[id] = struct{}{}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump(authenticated bool) {
	registered := authenticated
	// Closing send lets the write pump flush pending replies and close the conn.
	defer func() {
		if registered {
			c.hub.leave(c)
		} else {
			c.closeSend()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if authenticated {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	} else {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd clientCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}

		// First message must be authentication
		if !authenticated {
			perms, reason := c.authenticate(cmd)
			if reason != "" {
				c.logger.Warn("WebSocket authentication failed",
					zap.String("reason", reason),
					zap.String("remote_addr", c.remoteAddr()))
				c.reply(NewMessage(MessageTypeAuthFailed, map[string]string{"reason": reason}))
				return
			}

			authenticated = true
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			c.reply(NewMessage(MessageTypeAuthSuccess, map[string]any{"permissions": perms}))

			if !c.hub.join(c) {
				return
			}
			registered = true
			continue
		}

		c.handleCommand(cmd)
	}
}

// authenticate returns the granted permissions, or a non-empty failure reason.
func (c *Client) authenticate(cmd clientCommand) ([]auth.Permission, string) {
	if cmd.Type != "auth" {
		return nil, "First message must be authentication"
	}
	if cmd.Token == "" {
		return nil, "Missing token in auth message"
	}
	claims, err := c.hub.jwtHandler.ValidateAccessToken(cmd.Token)
	if err != nil {
		return nil, "Invalid or expired token"
	}
	for _, p := range claims.Permissions {
		if p == auth.PermHistoryRead {
			return claims.Permissions, ""
		}
	}
	return nil, "Token lacks history:read"
}

func (c *Client) handleCommand(cmd clientCommand) {
	switch cmd.Type {
	case "subscribe":
		c.subscribe(cmd.EndpointIDs)
		c.reply(NewMessage(MessageTypeSubscribed, map[string]any{"endpointIds": cmd.EndpointIDs}))
		c.logger.Debug("WebSocket client subscribed",
			zap.String("remote_addr", c.remoteAddr()),
			zap.Strings("endpoint_ids", cmd.EndpointIDs))
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr()),
			zap.String("type", cmd.Type))
	}
}

func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// writePump handles writing messages to the WebSocket connection
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
				// Hub closed the channel
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	open := hub.jwtHandler == nil
	if open && !hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(open)
}
