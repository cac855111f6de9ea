package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/watchsync/core/internal/v1/logging"
	"github.com/watchsync/core/internal/v1/metrics"
	"github.com/watchsync/core/internal/v1/room"
)

// wsConnection is the subset of *websocket.Conn the Client depends on,
// narrowed so tests can supply an in-memory fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Client represents one authenticated signaling connection. It implements
// room.Sender so the Room Registry can hold a reference to it without
// depending on the transport.
type Client struct {
	conn   wsConnection
	send   chan []byte
	connID room.ConnID
	userID room.UserID

	mu      sync.RWMutex
	roomID  room.ID
	inRoom  bool

	pingInterval time.Duration
	pongTimeout  time.Duration
}

func newClient(conn wsConnection, connID room.ConnID, userID room.UserID, pingInterval, pongTimeout time.Duration) *Client {
	return &Client{
		conn:         conn,
		send:         make(chan []byte, 256),
		connID:       connID,
		userID:       userID,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
}

// Send implements room.Sender. It never blocks: a full buffer drops the
// message rather than stalling the room's fan-out.
func (c *Client) Send(data []byte) {
	select {
	case c.send <- data:
	default:
		logging.Warn(nil, "client send buffer full, dropping message", zap.String("connId", string(c.connID)))
	}
}

func (c *Client) setRoom(id room.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = id
	c.inRoom = true
}

func (c *Client) clearRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inRoom = false
}

func (c *Client) currentRoom() (room.ID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID, c.inRoom
}

// readPump reads JSON envelopes off the connection and hands each to
// dispatch, until the connection errors or closes. It always runs in its
// own goroutine, started by Hub.ServeWs.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.handleDisconnect(c)
		c.conn.Close()
		close(c.send)
		metrics.DecConnection()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := unmarshalEnvelope(data, &env); err != nil {
			logging.Warn(nil, "discarding malformed envelope", zap.String("connId", string(c.connID)), zap.Error(err))
			continue
		}

		h.dispatch(c, env)
	}
}

// writePump serializes writes to the connection, including periodic pings,
// so that fan-out from other goroutines never races on the same socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	const writeWait = 10 * time.Second

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
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
