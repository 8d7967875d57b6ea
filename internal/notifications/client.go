package notifications

import (
	"sync"
	"time"

	"lingochat/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	sendBufferSize = 256
)

var droppedNotice = []byte(`{"event":"messages_dropped","data":{"reason":"buffer_full"}}`)

// WSHub is implemented by whatever owns a client's lifecycle.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one live websocket connection. UserID is empty until the
// connection has been authenticated and registered.
type Client struct {
	ID string

	Hub WSHub

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	UserID string

	// IncomingHandler is called for each inbound text frame.
	IncomingHandler func(*Client, []byte)

	// OnActivity is called whenever the peer shows signs of life.
	OnActivity func(*Client)

	closeOnce sync.Once
}

// NewClient creates a new Client instance
func NewClient(hub WSHub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, sendBufferSize),
	}
}

func (c *Client) hubName() string {
	if c.Hub == nil {
		return "detached"
	}
	return c.Hub.Name()
}

// ReadPump pumps messages from the websocket connection to the handler.
// It returns when the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		if c.Hub != nil {
			c.Hub.UnregisterClient(c)
		}
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.OnActivity != nil {
			c.OnActivity(c)
		}
		return nil
	})

	for {
		msgType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.GlobalLogger.Warn("websocket read failed",
					"hub", c.hubName(), "user_id", c.UserID, "conn_id", c.ID, "error", err.Error())
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if c.OnActivity != nil {
			c.OnActivity(c)
		}
		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps messages from Send to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the registry closed the channel
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues message without blocking. A full buffer drops the message
// and queues a messages_dropped notice so the client can re-fetch.
func (c *Client) TrySend(message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
		return true
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "full").Inc()
		observability.GlobalLogger.Warn("websocket buffer full, dropped message",
			"hub", c.hubName(), "user_id", c.UserID, "conn_id", c.ID)

		select {
		case c.Send <- droppedNotice:
		default:
		}
		return false
	}
}

// Close closes the outbound queue, which makes WritePump send a close frame.
// Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}
