package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

const (
	// writeTimeout bounds both the channel enqueue and the wire write.
	writeTimeout = 5 * time.Second
	// writeBuffer absorbs broadcast bursts without blocking the sender.
	writeBuffer = 100

	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// Connection wraps one WebSocket with a single writer goroutine. All
// outbound traffic goes through SendEvent, which serializes writes through
// writeCh; gorilla/websocket permits only one concurrent writer.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded WebSocket and starts its writer.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the sole writer on the underlying socket; it also owns the
// keepalive pings.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// SendEvent marshals an envelope and queues it for the writer goroutine.
// Implements session.Sender.
func (c *Connection) SendEvent(event string, payload interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	env := types.Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return ErrInvalidJSON
		}
		env.Data = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadMessage blocks for the next inbound frame.
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
