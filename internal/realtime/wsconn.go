package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 << 10
)

var (
	errConnClosed = errors.New("connection closed")
	errSlowClient = errors.New("connection send buffer full")
)

// socket is the write side of a websocket, satisfied by *websocket.Conn.
type socket interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// wsConn is a websocket-backed Conn. Every write, including the close
// frame, is made by a single writer goroutine; Send and Close never touch
// the socket.
type wsConn struct {
	id     string
	userID string
	ws     socket
	send   chan []byte
	once   sync.Once
	done   chan struct{}

	// set once, before done is closed
	closeCode   int
	closeReason string
}

func newWSConn(userID string, ws socket, buffer int) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string     { return c.id }
func (c *wsConn) UserID() string { return c.userID }

// Send enqueues payload. A client too slow to drain its buffer is closed
// rather than allowed to stall the broadcaster.
func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errSlowClient
	}
}

// Close marks the connection closed and returns at once. The writer
// goroutine sends the close frame (when code is non-zero) and closes the
// socket. Safe to call more than once and from any goroutine.
func (c *wsConn) Close(code int, reason string) {
	c.once.Do(func() {
		c.closeCode, c.closeReason = code, reason
		close(c.done)
	})
}

func (c *wsConn) start() {
	go c.writeLoop()
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.shutdown()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(0, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(0, "")
				return
			}
		}
	}
}

func (c *wsConn) shutdown() {
	c.Close(0, "")
	if c.closeCode != 0 {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(c.closeCode, c.closeReason), time.Now().Add(writeWait))
	}
	_ = c.ws.Close()
}

func (c *wsConn) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
