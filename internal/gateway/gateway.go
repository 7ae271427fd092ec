// ABOUTME: Gateway orchestrator owning the connection lifecycle, auth handshake,
// ABOUTME: rate-limited dispatch, offline-queue drain, and the HTTP surface.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/tsnet"

	"github.com/pulsehq/pulse-gateway/internal/auth"
	"github.com/pulsehq/pulse-gateway/internal/config"
	"github.com/pulsehq/pulse-gateway/internal/metrics"
	"github.com/pulsehq/pulse-gateway/internal/queue"
	"github.com/pulsehq/pulse-gateway/internal/ratelimit"
	"github.com/pulsehq/pulse-gateway/internal/store"
)

// Params carries the gateway's collaborators. Everything is injected
// explicitly; the gateway holds no ambient global state.
type Params struct {
	Config   *config.Config
	Store    store.Store
	Metrics  *metrics.Collector
	Limiter  *ratelimit.Limiter
	Queue    *queue.Queue
	Verifier auth.TokenVerifier
	Router   *Router
	Logger   *slog.Logger
}

// Gateway terminates client websocket connections, authenticates them,
// enforces per-identity quotas, and guarantees FIFO delivery of messages
// queued while an identity was offline. All shared state lives in the
// counter store, so any number of Gateway instances can run behind it.
type Gateway struct {
	cfg      *config.Config
	store    store.Store
	metrics  *metrics.Collector
	limiter  *ratelimit.Limiter
	queue    *queue.Queue
	verifier auth.TokenVerifier
	manager  *Manager
	router   *Router
	prom     *promMetrics
	upgrader websocket.Upgrader
	logger   *slog.Logger

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// New assembles a Gateway from its collaborators.
func New(p Params) (*Gateway, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("gateway: config is required")
	case p.Store == nil:
		return nil, errors.New("gateway: store is required")
	case p.Metrics == nil:
		return nil, errors.New("gateway: metrics collector is required")
	case p.Limiter == nil:
		return nil, errors.New("gateway: rate limiter is required")
	case p.Queue == nil:
		return nil, errors.New("gateway: queue is required")
	case p.Verifier == nil:
		return nil, errors.New("gateway: token verifier is required")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Router == nil {
		p.Router = NewRouter(p.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		cfg:      p.Config,
		store:    p.Store,
		metrics:  p.Metrics,
		limiter:  p.Limiter,
		queue:    p.Queue,
		verifier: p.Verifier,
		manager:  NewManager(p.Logger),
		router:   p.Router,
		prom:     newPromMetrics(),
		logger:   p.Logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin enforcement belongs to the fronting proxy; the
			// handshake below is what gates access.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	g.httpServer = &http.Server{
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Router returns the frame router so collaborating subsystems can register
// handlers for their message types.
func (g *Gateway) Router() *Router {
	return g.router
}

// handleWS upgrades an HTTP request and services the connection until the
// socket closes. Frames on one connection are processed strictly in arrival
// order; connections are serviced concurrently.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := newConnection(ws, g.logger)
	conn.setState(StateAwaitingAuth)
	g.manager.Add(conn)

	g.metrics.IncrementCounter(g.ctx, "connections.total")
	g.metrics.Add(g.ctx, "connections.active", 1)
	g.prom.connectionsTotal.Inc()
	g.prom.connectionsActive.Inc()

	conn.logger.Info("connection accepted", "remote", ws.RemoteAddr().String())

	ws.SetReadLimit(maxMessageSize)
	// The auth deadline doubles as the read deadline: a connection that has
	// not authenticated in time fails its next read and is torn down.
	_ = ws.SetReadDeadline(time.Now().Add(g.cfg.Auth.Timeout))

	go conn.writePump()
	g.readLoop(conn)

	conn.Close()
	g.manager.Remove(conn)
	g.metrics.Add(g.ctx, "connections.active", -1)
	g.prom.connectionsActive.Dec()
	conn.logger.Info("connection closed", "identity", conn.Identity())
}

// readLoop processes inbound frames one at a time in arrival order.
func (g *Gateway) readLoop(conn *Connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if conn.State() == StateAwaitingAuth {
				conn.logger.Info("connection evicted before authentication", "error", err)
			}
			return
		}
		conn.touch()

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			g.prom.framesTotal.WithLabelValues(resultMalformed).Inc()
			_ = conn.Send(encodeError("Malformed message"))
			continue
		}

		if conn.State() != StateAuthenticated {
			if frame.Type != TypeAuth {
				_ = conn.Send(encodeError("Authentication required"))
				continue
			}
			if !g.authenticate(conn, frame) {
				return
			}
			continue
		}

		g.handleFrame(conn, frame)
	}
}

// authenticate runs the handshake for a TypeAuth frame. It returns false
// when the connection must be torn down; the ack frame has already been sent
// in that case. On success the identity's offline queue is drained before
// this returns, so nothing the peer sends afterwards can be processed ahead
// of older queued messages.
func (g *Gateway) authenticate(conn *Connection, frame Frame) bool {
	var req AuthRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil || req.Token == "" {
		return g.rejectAuth(conn, "malformed auth payload", nil)
	}

	identity, err := g.verifier.Verify(req.Token)
	if err != nil {
		return g.rejectAuth(conn, "token verification failed", err)
	}

	allowed, err := g.limiter.Allow(g.ctx, identity, "connection")
	if err != nil {
		// Store outage: auth cannot bypass quota enforcement.
		return g.rejectAuth(conn, "connection rate check failed", err)
	}
	if !allowed {
		_ = conn.Send(encodeError(rateLimitExceeded))
		conn.CloseAfterFlush()
		return false
	}

	g.metrics.IncrementCounter(g.ctx, "auth.success")
	_ = conn.Send(encodeAuthAck(StatusSuccess))

	// Drain before binding: while the drain runs the identity still looks
	// offline, so concurrent sends go to the queue instead of interleaving
	// with the backlog on the live socket.
	g.drainQueue(conn, identity)

	if displaced := g.manager.Bind(conn, identity); displaced != nil {
		displaced.Close()
	}

	// Catch anything enqueued between the first drain and the bind.
	g.drainQueue(conn, identity)

	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return true
}

// rejectAuth sends a failure ack, records the attempt, and closes the
// connection once the ack has flushed.
func (g *Gateway) rejectAuth(conn *Connection, reason string, err error) bool {
	conn.logger.Warn("authentication failed", "reason", reason, "error", err)
	g.metrics.IncrementCounter(g.ctx, "auth.failures")
	_ = conn.Send(encodeAuthAck(StatusFailure))
	conn.CloseAfterFlush()
	return false
}

// drainQueue delivers everything queued for the identity, oldest first, then
// clears the queue. Any failure aborts without clearing so the whole batch is
// redelivered on the next reconnect; duplicate delivery is preferred to loss.
func (g *Gateway) drainQueue(conn *Connection, identity string) {
	msgs, seen, err := g.queue.Peek(g.ctx, identity)
	if err != nil {
		conn.logger.Warn("queue drain aborted, will retry on next reconnect",
			"identity", identity,
			"error", err,
		)
		return
	}
	if seen == 0 {
		return
	}

	for _, msg := range msgs {
		if err := conn.Send(msg.Payload); err != nil {
			conn.logger.Warn("queue drain interrupted",
				"identity", identity,
				"error", err,
			)
			return
		}
		g.prom.queuedDeliveries.Inc()
	}

	if err := g.queue.Clear(g.ctx, identity, seen); err != nil {
		conn.logger.Warn("queue clear failed, messages may be redelivered",
			"identity", identity,
			"error", err,
		)
		return
	}

	g.metrics.Add(g.ctx, "queue.delivered", int64(len(msgs)))
	conn.logger.Info("offline queue drained",
		"identity", identity,
		"messages", len(msgs),
	)
}

// handleFrame runs the rate-limit and dispatch path for one authenticated
// inbound frame.
func (g *Gateway) handleFrame(conn *Connection, frame Frame) {
	identity := conn.Identity()
	action := actionForType(frame.Type)

	allowed, err := g.limiter.Allow(g.ctx, identity, action)
	if err != nil {
		// The check itself failed; the frame must not bypass quota.
		conn.logger.Error("rate limit check failed", "action", action, "error", err)
		g.prom.framesTotal.WithLabelValues(resultRejected).Inc()
		_ = conn.Send(encodeError("Service unavailable"))
		return
	}
	if !allowed {
		g.prom.framesTotal.WithLabelValues(resultRateLimited).Inc()
		_ = conn.Send(encodeError(rateLimitExceeded))
		return
	}

	g.metrics.IncrementCounter(g.ctx, "messages.received")

	start := time.Now()
	if frame.Type == TypeBroadcast {
		g.Broadcast(g.ctx, frame, func(recipient string) bool {
			return recipient != identity
		})
		err = nil
	} else {
		err = g.router.Dispatch(g.ctx, conn, frame)
	}
	g.metrics.RecordTiming(g.ctx, "gateway.messageHandling", time.Since(start))

	if err != nil {
		if errors.Is(err, ErrNoHandler) {
			_ = conn.Send(encodeError(fmt.Sprintf("Unknown message type: %s", frame.Type)))
		} else {
			conn.logger.Warn("handler failed", "type", frame.Type, "error", err)
			_ = conn.Send(encodeError("Message handling failed"))
		}
		g.prom.framesTotal.WithLabelValues(resultRejected).Inc()
		return
	}

	g.prom.framesTotal.WithLabelValues(resultOK).Inc()
}

// SendToIdentity delivers a payload to an identity: immediately when it has
// a live authenticated connection, otherwise onto its store-backed offline
// queue for FIFO delivery on the next successful authentication. Used by
// collaborating subsystems to push messages to users.
func (g *Gateway) SendToIdentity(ctx context.Context, identity string, payload json.RawMessage) error {
	if conn, ok := g.manager.Get(identity); ok {
		if err := conn.Send(payload); err == nil {
			g.metrics.IncrementCounter(ctx, "messages.delivered")
			return nil
		}
		// Slow consumer or racing close; fall back to the queue.
	}

	if err := g.queue.Enqueue(ctx, identity, payload); err != nil {
		return err
	}
	g.metrics.IncrementCounter(ctx, "messages.queued")
	return nil
}

// Broadcast fans a frame out to every authenticated connection matching the
// predicate (nil matches all). Each recipient passes through the broadcast
// rate-limit bucket; limited recipients are skipped. Returns the number of
// recipients the frame was queued to.
func (g *Gateway) Broadcast(ctx context.Context, frame Frame, match func(identity string) bool) int {
	data, err := json.Marshal(frame)
	if err != nil {
		g.logger.Error("broadcast encode failed", "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range g.manager.Authenticated() {
		recipient := conn.Identity()
		if match != nil && !match(recipient) {
			continue
		}

		allowed, err := g.limiter.Allow(ctx, recipient, "broadcast")
		if err != nil {
			g.logger.Error("broadcast rate check failed", "identity", recipient, "error", err)
			continue
		}
		if !allowed {
			continue
		}

		if err := conn.Send(data); err != nil {
			conn.logger.Debug("broadcast send failed", "error", err)
			continue
		}
		delivered++
	}

	g.metrics.Add(ctx, "broadcast.delivered", int64(delivered))
	return delivered
}

// setupListener creates the TCP or tsnet listener per configuration.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.cfg.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.cfg.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.cfg.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", g.cfg.Server.HTTPAddr, err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the tsnet state directory, defaulting
// under the user's data dir.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "pulse-gateway", "tailscale"), nil
}

// setupTailscaleListener joins the tailnet and listens there instead of on a
// local TCP address.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.cfg.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}

	authKey := tsCfg.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return nil, errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}

	g.tsnetServer = &tsnet.Server{
		Hostname: tsCfg.Hostname,
		AuthKey:  authKey,
		Dir:      stateDir,
	}

	if _, err := g.tsnetServer.Up(ctx); err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("bringing up tailscale: %w", err)
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailnet: %w", err)
	}

	g.logger.Info("gateway listening on tailnet", "hostname", tsCfg.Hostname)
	return ln, nil
}

// Run starts the gateway and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops accepting connections, closes every live socket, and shuts
// the HTTP server down. Store-side state (queues, windows, metrics) is left
// intact for other instances and restarts.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.cancel()
	g.manager.CloseAll()

	var err error
	if g.httpServer != nil {
		err = g.httpServer.Shutdown(ctx)
	}
	if g.tsnetServer != nil {
		if closeErr := g.tsnetServer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}

	g.logger.Info("gateway shutdown complete")
	return err
}
