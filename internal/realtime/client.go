package realtime

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/soulline/backend/internal/models"
)

const writeRetryDelay = 200 * time.Millisecond

// Client is one authenticated socket attached to a room. The room worker
// only ever talks to this interface; tests substitute in-memory fakes.
type Client interface {
	UserID() string
	Role() models.UserRole
	// Send queues ev for delivery. It never blocks; false means the client
	// cannot keep up (or is closed) and should be detached.
	Send(ev ServerEvent) bool
	// Kick closes the underlying transport.
	Kick(reason string)
}

// wsClient adapts a gorilla websocket connection to the Client interface.
// Events are drained by a dedicated writer goroutine so the room worker is
// never blocked by a slow socket.
type wsClient struct {
	id           Identity
	conn         *websocket.Conn
	out          chan ServerEvent
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWSClient wraps an upgraded connection for room use.
func NewWSClient(id Identity, conn *websocket.Conn, buffer int, writeTimeout time.Duration) Client {
	c := &wsClient{
		id:           id,
		conn:         conn,
		out:          make(chan ServerEvent, buffer),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *wsClient) UserID() string        { return c.id.UserID }
func (c *wsClient) Role() models.UserRole { return c.id.Role }

func (c *wsClient) Send(ev ServerEvent) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- ev:
		return true
	default:
		// buffer full; the caller drops this client
		return false
	}
}

func (c *wsClient) Kick(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

func (c *wsClient) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case ev := <-c.out:
			if err := c.writeJSON(ev); err != nil {
				c.Kick("write failed")
				return
			}
		}
	}
}

// writeJSON retries briefly on transient write errors before giving up.
func (c *wsClient) writeJSON(ev ServerEvent) error {
	operation := func() error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		return c.conn.WriteJSON(ev)
	}
	strategy := backoff.WithMaxRetries(backoff.NewConstantBackOff(writeRetryDelay), 2)
	return backoff.Retry(operation, strategy)
}
