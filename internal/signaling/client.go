package signaling

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

var errClientClosed = errors.New("signaling: client closed")

// wsClient wraps one WebSocket connection as a session.Peer. gorilla
// connections allow a single concurrent writer, so every outbound frame
// (events, pings, close frames) is serialized through writeMu.
type wsClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool

	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn}
}

// Send marshals event and writes it as one text frame. Safe for concurrent
// use; fails fast once the connection is closed.
func (c *wsClient) Send(event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return errClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsClient) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return errClientClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// closeWith sends a close frame with the given code and reason, then tears
// down the underlying connection. Later Sends fail with errClientClosed.
func (c *wsClient) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}
