package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// DefaultPongWait applies when the hub is built without an explicit value.
	DefaultPongWait = 20 * time.Second

	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// EventHandler receives decoded client frames. Calls for one client arrive
// in the order the peer sent them; calls for different clients run concurrently.
type EventHandler interface {
	HandleEvent(client *Client, event string, data json.RawMessage)
	// HandleDisconnect runs after the client left every group; groups is what it was in.
	HandleDisconnect(client *Client, groups []string)
}

type Client struct {
	ID     string
	UserID uint
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub

	mu     sync.RWMutex
	groups map[string]bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		Hub:    hub,
		groups: make(map[string]bool),
	}
}

// ReadPump decodes frames until the connection drops, then unregisters the client.
func (c *Client) ReadPump(handler EventHandler) {
	defer func() {
		groups := c.Groups()
		c.Hub.Unregister(c)
		c.Conn.Close()
		if handler != nil {
			handler.HandleDisconnect(c, groups)
		}
	}()

	pongWait := c.Hub.pongWait
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := c.Conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger().Debug("websocket read ended", "error", err)
			}
			return
		}

		if env.Event == "" {
			c.logger().Debug("frame without event name")
			continue
		}

		if handler != nil {
			handler.HandleEvent(c, env.Event, env.Data)
		}
	}
}

// WritePump drains Send onto the socket and keeps the peer alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Hub.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(c.Send)
			for i := 0; i < n; i++ {
				next, ok := <-c.Send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, next); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Emit queues one event for this connection only. Delivery is best-effort.
func (c *Client) Emit(event string, data interface{}) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) (err error) {
	defer func() {
		// Send is closed once the hub dropped the client.
		if recover() != nil {
			err = ErrClientNotFound
		}
	}()

	select {
	case c.Send <- frame:
		return nil
	default:
		return ErrClientQueueFull
	}
}

func (c *Client) InGroup(group string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groups[group]
}

func (c *Client) Groups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]string, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	return groups
}

func (c *Client) logger() *slog.Logger {
	return c.Hub.log.With("conn_id", c.ID, "user_id", c.UserID)
}
