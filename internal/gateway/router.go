// ABOUTME: Frame-type dispatch table mapping message types to owning handlers.
// ABOUTME: Handlers are registered by collaborating subsystems; ping is built in.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNoHandler indicates an inbound frame type with no registered handler.
var ErrNoHandler = errors.New("no handler for message type")

// HandlerFunc processes one allowed inbound frame on behalf of the owning
// subsystem. The gateway has already authenticated the connection and passed
// the frame through rate limiting; handler errors are reported back to the
// peer as error frames without corrupting connection state.
type HandlerFunc func(ctx context.Context, conn *Connection, frame Frame) error

// Router dispatches inbound frames by type. Message content is opaque to the
// gateway; adding a message type is a registration, not a gateway change.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// NewRouter creates a Router with the built-in ping handler registered.
func NewRouter(logger *slog.Logger) *Router {
	r := &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With("component", "router"),
	}
	r.Register(TypePing, handlePing)
	return r
}

// Register installs the handler for a frame type, replacing any previous one.
func (r *Router) Register(frameType string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[frameType] = handler
}

// Dispatch routes a frame to its handler.
func (r *Router) Dispatch(ctx context.Context, conn *Connection, frame Frame) error {
	r.mu.RLock()
	handler, ok := r.handlers[frame.Type]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNoHandler, frame.Type)
	}
	return handler(ctx, conn, frame)
}

// handlePing replies with a pong carrying the original payload back.
func handlePing(_ context.Context, conn *Connection, frame Frame) error {
	reply, err := json.Marshal(Frame{Type: TypePong, Payload: frame.Payload})
	if err != nil {
		return err
	}
	return conn.Send(reply)
}
