package bridge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Client represents a websocket client connection.
type Client struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger
	mu   sync.Mutex
}

// NewClient constructs a client wrapper.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{id: id, conn: conn, log: logger.With("client_id", id)}
}

// ID identifies the connection in logs.
func (c *Client) ID() string {
	return c.id
}

// Send writes a message to the websocket connection. Hub broadcasts and
// direct replies may call Send concurrently.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}
