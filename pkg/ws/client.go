package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signaldesk/signaldesk/pkg/event"
)

const (
	readLimit    = 64 << 10
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// ClientMessage is the JSON envelope received from a client.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler receives the connect notification, decoded client events and the
// disconnect notification. Implemented by the session layer.
type Handler interface {
	HandleConnect(c *Client)
	HandleEvent(c *Client, name string, data json.RawMessage)
	HandleDisconnect(c *Client)
}

// Client is one live authenticated connection. The bound principal never
// changes for the lifetime of the connection.
type Client struct {
	UserID     string
	UserName   string
	UserAvatar string

	hub     *Hub
	conn    *websocket.Conn
	handler Handler
	send    chan WSMessage

	// rooms is guarded by hub.mu.
	rooms map[string]bool

	closeOnce sync.Once
}

// NewClient wraps an upgraded connection for the given principal.
func NewClient(hub *Hub, conn *websocket.Conn, handler Handler, userID, userName, userAvatar string) *Client {
	return &Client{
		UserID:     userID,
		UserName:   userName,
		UserAvatar: userAvatar,
		hub:        hub,
		conn:       conn,
		handler:    handler,
		send:       make(chan WSMessage, sendBuffer),
		rooms:      make(map[string]bool),
	}
}

// Emit queues an event for delivery to this client only.
func (c *Client) Emit(ev event.Event) {
	c.queue(envelope(ev), c.hub.logger)
}

// queue enqueues without blocking; a slow consumer loses events rather than
// stalling every room it shares with others.
func (c *Client) queue(msg WSMessage, logger *slog.Logger) {
	defer func() {
		// Send channel may be closed concurrently by Unregister.
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
		if logger != nil {
			logger.Warn("dropping event, send buffer full", "event", msg.Event, "user", c.UserID)
		}
	}
}

// Run registers the client and pumps the connection until it closes. It
// blocks until the read side terminates; the disconnect handler fires
// exactly once.
func (c *Client) Run() {
	c.hub.Register(c)
	c.handler.HandleConnect(c)
	go c.writePump()
	c.readPump()
}

// Outbound returns the client's delivery queue.
func (c *Client) Outbound() <-chan WSMessage { return c.send }

// readPump reads client events and dispatches them to the handler.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("unexpected close", "user", c.UserID, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Warn("invalid client message", "user", c.UserID, "error", err)
			continue
		}
		if msg.Event == "" {
			continue
		}
		c.handler.HandleEvent(c, msg.Event, msg.Data)
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.handler.HandleDisconnect(c)
	})
}
