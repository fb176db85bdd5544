package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

var (
	// ErrBufferFull is returned when the send buffer is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrClosed is returned when enqueueing to a closed connection.
	ErrClosed = errors.New("connection closed")
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID       string
	Identity domain.Identity
	Conn     *websocket.Conn

	send chan []byte

	mu     sync.Mutex // guards closed and the close of send
	closed bool

	writeMu sync.Mutex
}

// NewConnection creates a connection with a send buffer of size buffer.
// ws may be nil for connections that are never written to the network.
func NewConnection(ws *websocket.Conn, id domain.Identity, buffer int) *Connection {
	return &Connection{
		ID:       newID(),
		Identity: id,
		Conn:     ws,
		send:     make(chan []byte, buffer),
	}
}

// Send returns the outbound frame queue. It is closed when the connection closes.
func (c *Connection) Send() <-chan []byte {
	return c.send
}

// Enqueue queues data for the writer without blocking.
func (c *Connection) Enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// CloseSend closes the outbound queue. It is safe to call more than once.
func (c *Connection) CloseSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}
