// ABOUTME: Registry of live connections, indexed by connection ID and identity.
// ABOUTME: Central lookup for directed delivery and broadcast fan-out.

package gateway

import (
	"log/slog"
	"sync"
)

// Manager tracks every live connection. Identity bindings point at the single
// connection allowed per identity; binding an already-bound identity evicts
// the older connection.
type Manager struct {
	mu         sync.RWMutex
	byID       map[string]*Connection
	byIdentity map[string]*Connection
	logger     *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		byID:       make(map[string]*Connection),
		byIdentity: make(map[string]*Connection),
		logger:     logger.With("component", "manager"),
	}
}

// Add registers a freshly accepted connection.
func (m *Manager) Add(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID[conn.ID] = conn
	m.logger.Debug("connection added",
		"connection_id", conn.ID,
		"total", len(m.byID),
	)
}

// Bind associates an authenticated connection with its identity. If the
// identity already has a live connection, that connection is returned so the
// caller can close it; the new one wins.
func (m *Manager) Bind(conn *Connection, identity string) (displaced *Connection) {
	conn.bind(identity)

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.byIdentity[identity]; ok && prev != conn {
		displaced = prev
	}
	m.byIdentity[identity] = conn

	m.logger.Info("connection authenticated",
		"connection_id", conn.ID,
		"identity", identity,
		"displaced", displaced != nil,
	)
	return displaced
}

// Remove unregisters a connection. The identity binding is only cleared if
// it still points at this connection, so an evicted connection does not tear
// down its successor's binding.
func (m *Manager) Remove(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.byID, conn.ID)
	if identity := conn.Identity(); identity != "" {
		if cur, ok := m.byIdentity[identity]; ok && cur == conn {
			delete(m.byIdentity, identity)
		}
	}

	m.logger.Debug("connection removed",
		"connection_id", conn.ID,
		"total", len(m.byID),
	)
}

// Get returns the live authenticated connection for identity, if any.
func (m *Manager) Get(identity string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.byIdentity[identity]
	if !ok || conn.State() != StateAuthenticated {
		return nil, false
	}
	return conn, true
}

// Authenticated returns a snapshot of all authenticated connections.
func (m *Manager) Authenticated() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Connection, 0, len(m.byIdentity))
	for _, conn := range m.byIdentity {
		if conn.State() == StateAuthenticated {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Len returns the number of live connections in any state.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// CloseAll force-closes every connection; used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.byID))
	for _, conn := range m.byID {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}
