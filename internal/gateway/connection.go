// ABOUTME: Per-socket connection state machine and write pump.
// ABOUTME: Connecting → AwaitingAuth → Authenticated → Closed, with keepalive pings.

package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Socket timing, from the usual gorilla pump shape.
const (
	// writeWait is the time allowed to write one message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between pongs from an authenticated peer.
	pongWait = 60 * time.Second

	// pingPeriod is how often pings are sent. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames.
	maxMessageSize = 64 * 1024

	// sendBufferSize is the outbound queue per connection.
	sendBufferSize = 256
)

// ErrSendBufferFull indicates the connection's outbound queue is full; the
// peer is too slow to keep up.
var ErrSendBufferFull = errors.New("send buffer full")

// ErrConnectionClosed indicates a send on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// State is the connection lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingAuth
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is one live transport socket. The ID is unique for the process
// lifetime; the identity is empty until authentication succeeds. The gateway
// owns the connection exclusively: created on accept, destroyed on socket
// close or forced eviction.
type Connection struct {
	ID string

	ws   *websocket.Conn
	send chan []byte

	mu           sync.RWMutex
	identity     string
	state        State
	lastActivity time.Time

	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
	closeReq  chan struct{}
}

// newConnection wraps an upgraded websocket in a Connection in the
// Connecting state.
func newConnection(ws *websocket.Conn, logger *slog.Logger) *Connection {
	id := uuid.New().String()
	return &Connection{
		ID:           id,
		ws:           ws,
		send:         make(chan []byte, sendBufferSize),
		state:        StateConnecting,
		lastActivity: time.Now(),
		logger:       logger.With("connection_id", id),
		done:         make(chan struct{}),
		closeReq:     make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// setState transitions the lifecycle state.
func (c *Connection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Identity returns the authenticated identity, or "" before authentication.
func (c *Connection) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// bind marks the connection authenticated as identity.
func (c *Connection) bind(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	c.state = StateAuthenticated
}

// touch records inbound activity.
func (c *Connection) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

// LastActivity returns when the peer last sent a frame.
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Send queues data for delivery to the peer without blocking. A full buffer
// is an error rather than a stall: one slow consumer must not hold up the
// caller.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears the socket down. Safe to call multiple times; queued outbound
// messages are dropped.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.done)
		_ = c.ws.Close()
	})
}

// CloseAfterFlush asks the write pump to deliver everything already queued,
// send a close frame, and tear the socket down, then waits for that to
// finish. Used when the peer is owed a final frame (auth rejection,
// rate-limit rejection) that a plain Close would race past.
func (c *Connection) CloseAfterFlush() {
	select {
	case c.closeReq <- struct{}{}:
	case <-c.done:
		return
	}

	select {
	case <-c.done:
	case <-time.After(2 * writeWait):
		// Pump wedged on a dead peer; give up on the flush.
		c.Close()
	}
}

// writePump serializes all writes to the socket: queued sends and keepalive
// pings. It owns the write side; nothing else may call ws.Write*.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-c.closeReq:
			c.flush()
			return

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// flush writes out everything still queued, then a close frame. Called only
// from the write pump.
func (c *Connection) flush() {
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		default:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
			return
		}
	}
}
