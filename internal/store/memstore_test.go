// ABOUTME: Tests for the in-memory Store implementation.
// ABOUTME: Covers TTL expiry, atomic counters, list operations, and scans.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_GetSet(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestMemStore_TTLExpiry(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	// Step past the expiry; the key should be gone.
	now = now.Add(time.Minute + time.Second)
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.TTL(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_SetNX(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", val)
}

func TestMemStore_Counters(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	n, err := s.IncrBy(ctx, "c", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrBy(ctx, "c", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.DecrBy(ctx, "c", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Decrementing a missing key creates it at zero, like Redis.
	n, err = s.DecrBy(ctx, "fresh", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)
}

func TestMemStore_Lists(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	t.Run("rpush preserves FIFO order", func(t *testing.T) {
		require.NoError(t, s.RPush(ctx, "q", "a"))
		require.NoError(t, s.RPush(ctx, "q", "b", "c"))

		vals, err := s.LRange(ctx, "q", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, vals)
	})

	t.Run("lpush prepends newest first", func(t *testing.T) {
		require.NoError(t, s.LPush(ctx, "h", "1"))
		require.NoError(t, s.LPush(ctx, "h", "2"))
		require.NoError(t, s.LPush(ctx, "h", "3"))

		vals, err := s.LRange(ctx, "h", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "2", "1"}, vals)
	})

	t.Run("ltrim bounds the list", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, s.LPush(ctx, "t", "x"))
		}
		require.NoError(t, s.LTrim(ctx, "t", 0, 2))

		n, err := s.LLen(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("range on missing key is empty", func(t *testing.T) {
		vals, err := s.LRange(ctx, "nope", 0, -1)
		require.NoError(t, err)
		assert.Empty(t, vals)
	})
}

func TestMemStore_Scan(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "ratelimit:message:u1", "99", 0))
	require.NoError(t, s.Set(ctx, "ratelimit:message:u2", "42", 0))
	require.NoError(t, s.Set(ctx, "ratelimit:broadcast:u1", "9", 0))

	keys, err := s.Scan(ctx, "ratelimit:message:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ratelimit:message:u1", "ratelimit:message:u2"}, keys)
}

func TestMemStore_Del(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Del(ctx, "a", "never-existed"))

	_, err := s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
}
