// ABOUTME: Unit tests for the connection manager.
// ABOUTME: Covers identity binding, displacement, and safe removal.

package gateway

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func newTestConnection() *Connection {
	return newConnection(nil, testLogger())
}

func TestManagerAddAndLen(t *testing.T) {
	m := NewManager(testLogger())

	m.Add(newTestConnection())
	m.Add(newTestConnection())

	assert.Equal(t, 2, m.Len())
}

func TestManagerBind(t *testing.T) {
	m := NewManager(testLogger())

	conn := newTestConnection()
	m.Add(conn)

	displaced := m.Bind(conn, "alice")
	require.Nil(t, displaced)

	assert.Equal(t, StateAuthenticated, conn.State())
	assert.Equal(t, "alice", conn.Identity())

	got, ok := m.Get("alice")
	require.True(t, ok)
	assert.Same(t, conn, got)
}

func TestManagerBindDisplacesPrevious(t *testing.T) {
	m := NewManager(testLogger())

	first := newTestConnection()
	second := newTestConnection()
	m.Add(first)
	m.Add(second)

	require.Nil(t, m.Bind(first, "alice"))

	displaced := m.Bind(second, "alice")
	require.Same(t, first, displaced)

	got, ok := m.Get("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestManagerRemoveKeepsSuccessorBinding(t *testing.T) {
	m := NewManager(testLogger())

	first := newTestConnection()
	second := newTestConnection()
	m.Add(first)
	m.Add(second)

	m.Bind(first, "alice")
	m.Bind(second, "alice")

	// Removing the displaced connection must not tear down the successor.
	m.Remove(first)

	got, ok := m.Get("alice")
	require.True(t, ok)
	assert.Same(t, second, got)

	m.Remove(second)
	_, ok = m.Get("alice")
	assert.False(t, ok)
}

func TestManagerGetIgnoresUnauthenticated(t *testing.T) {
	m := NewManager(testLogger())

	conn := newTestConnection()
	conn.setState(StateAwaitingAuth)
	m.Add(conn)

	_, ok := m.Get("")
	assert.False(t, ok)
	assert.Empty(t, m.Authenticated())
}

func TestManagerAuthenticatedSnapshot(t *testing.T) {
	m := NewManager(testLogger())

	a := newTestConnection()
	b := newTestConnection()
	pending := newTestConnection()
	pending.setState(StateAwaitingAuth)

	m.Add(a)
	m.Add(b)
	m.Add(pending)

	m.Bind(a, "alice")
	m.Bind(b, "bob")

	authed := m.Authenticated()
	assert.Len(t, authed, 2)
}
