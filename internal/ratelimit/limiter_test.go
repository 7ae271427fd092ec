// ABOUTME: Tests for the fixed-window rate limiter.
// ABOUTME: Covers budget exhaustion, remaining-point arithmetic, window reset, and aggregation.

package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse-gateway/internal/metrics"
	"github.com/pulsehq/pulse-gateway/internal/store"
)

func setupLimiter(t *testing.T, quotas map[string]Quota) (*Limiter, *metrics.Collector, *store.MemStore) {
	t.Helper()
	s := store.NewMemStore()
	m := metrics.NewCollector(s, time.Hour, 100, slog.Default())
	return NewLimiter(s, m, quotas, slog.Default()), m, s
}

func TestLimiter_BudgetExhaustion(t *testing.T) {
	const points = 5
	l, m, _ := setupLimiter(t, map[string]Quota{
		"message": {Points: points, Window: time.Minute},
	})
	ctx := context.Background()

	// Exactly points checks pass.
	for i := 0; i < points; i++ {
		allowed, err := l.Allow(ctx, "u1", "message")
		require.NoError(t, err)
		assert.True(t, allowed, "check %d should be allowed", i+1)
	}

	// The points+1-th is denied, repeatedly.
	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, "u1", "message")
		require.NoError(t, err)
		assert.False(t, allowed)
	}

	blocked, err := m.Counter(ctx, "rateLimit.blocked")
	require.NoError(t, err)
	assert.Equal(t, int64(3), blocked)
}

func TestLimiter_RemainingPoints(t *testing.T) {
	const points = 10
	l, _, _ := setupLimiter(t, map[string]Quota{
		"message": {Points: points, Window: time.Minute},
	})
	ctx := context.Background()

	t.Run("full budget with no active window", func(t *testing.T) {
		info, err := l.Remaining(ctx, "u1", "message")
		require.NoError(t, err)
		assert.Equal(t, points, info.Remaining)
		assert.WithinDuration(t, time.Now(), info.ResetAt, time.Second)
	})

	t.Run("remaining equals points minus consumed", func(t *testing.T) {
		for k := 1; k <= 4; k++ {
			_, err := l.Allow(ctx, "u1", "message")
			require.NoError(t, err)

			info, err := l.Remaining(ctx, "u1", "message")
			require.NoError(t, err)
			assert.Equal(t, points-k, info.Remaining)
		}
	})

	t.Run("reset time derives from window TTL", func(t *testing.T) {
		info, err := l.Remaining(ctx, "u1", "message")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Minute), info.ResetAt, 2*time.Second)
	})

	t.Run("remaining does not mutate the window", func(t *testing.T) {
		before, err := l.Remaining(ctx, "u1", "message")
		require.NoError(t, err)
		after, err := l.Remaining(ctx, "u1", "message")
		require.NoError(t, err)
		assert.Equal(t, before.Remaining, after.Remaining)
	})
}

func TestLimiter_WindowExpiryResetsBudget(t *testing.T) {
	l, _, s := setupLimiter(t, map[string]Quota{
		"connection": {Points: 2, Window: time.Minute},
	})
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		allowed, err := l.Allow(ctx, "u1", "connection")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, err := l.Allow(ctx, "u1", "connection")
	require.NoError(t, err)
	require.False(t, allowed)

	// Step past the window; the key expires and the budget is recreated.
	now = now.Add(time.Minute + time.Second)
	allowed, err = l.Allow(ctx, "u1", "connection")
	require.NoError(t, err)
	assert.True(t, allowed)
}

// expiryRacingStore expires the window between the limiter's read and its
// decrement by stepping the clock forward inside DecrBy, once.
type expiryRacingStore struct {
	*store.MemStore
	step func()
	once sync.Once
}

func (s *expiryRacingStore) DecrBy(ctx context.Context, key string, n int64) (int64, error) {
	s.once.Do(s.step)
	return s.MemStore.DecrBy(ctx, key, n)
}

func TestLimiter_ExpiryDuringDecrementDoesNotWedgeWindow(t *testing.T) {
	ms := store.NewMemStore()
	now := time.Now()
	ms.SetClock(func() time.Time { return now })
	s := &expiryRacingStore{
		MemStore: ms,
		step:     func() { now = now.Add(2 * time.Minute) },
	}

	m := metrics.NewCollector(s, time.Hour, 100, slog.Default())
	l := NewLimiter(s, m, map[string]Quota{
		"message": {Points: 5, Window: time.Minute},
	}, slog.Default())
	ctx := context.Background()

	allowed, err := l.Allow(ctx, "u1", "message")
	require.NoError(t, err)
	require.True(t, allowed)

	// The window expires between the read and the decrement, so the
	// decrement recreates the key negative and without a TTL. The limiter
	// must discard that key and open a fresh window rather than treating
	// the identity as blocked from here on.
	allowed, err = l.Allow(ctx, "u1", "message")
	require.NoError(t, err)
	assert.True(t, allowed)

	for i := 0; i < 3; i++ {
		allowed, err = l.Allow(ctx, "u1", "message")
		require.NoError(t, err)
		assert.True(t, allowed, "check %d after the race should be allowed", i+1)
	}

	// The recreated window carries a real expiry again.
	ttl, err := ms.TTL(ctx, "ratelimit:message:u1")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestLimiter_WarningNearExhaustion(t *testing.T) {
	l, m, _ := setupLimiter(t, map[string]Quota{
		"message": {Points: 10, Window: time.Minute},
	})
	ctx := context.Background()

	// Consume down to 2 remaining (20% of 10): the 8th check lands at the
	// threshold and warns; the 9th and 10th warn again.
	for i := 0; i < 10; i++ {
		allowed, err := l.Allow(ctx, "u1", "message")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	warnings, err := m.Counter(ctx, "rateLimit.warnings")
	require.NoError(t, err)
	assert.Equal(t, int64(3), warnings)
}

func TestLimiter_UnknownAction(t *testing.T) {
	l, _, _ := setupLimiter(t, map[string]Quota{
		"message": {Points: 10, Window: time.Minute},
	})
	ctx := context.Background()

	_, err := l.Allow(ctx, "u1", "teleport")
	require.ErrorIs(t, err, ErrUnknownAction)

	_, err = l.Remaining(ctx, "u1", "teleport")
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestLimiter_IdentitiesAreIndependent(t *testing.T) {
	l, _, _ := setupLimiter(t, map[string]Quota{
		"message": {Points: 1, Window: time.Minute},
	})
	ctx := context.Background()

	allowed, err := l.Allow(ctx, "u1", "message")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = l.Allow(ctx, "u1", "message")
	require.NoError(t, err)
	require.False(t, allowed)

	// A different identity still has its full budget.
	allowed, err = l.Allow(ctx, "u2", "message")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiter_Snapshot(t *testing.T) {
	l, _, _ := setupLimiter(t, map[string]Quota{
		"message":   {Points: 10, Window: time.Minute},
		"broadcast": {Points: 5, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ctx, "u1", "message")
		require.NoError(t, err)
	}
	_, err := l.Allow(ctx, "u2", "message")
	require.NoError(t, err)

	stats, err := l.Snapshot(ctx)
	require.NoError(t, err)

	msg := stats.Actions["message"]
	assert.Equal(t, 2, msg.TrackedIdentities)
	assert.Equal(t, 4, msg.ConsumedTotal)
	assert.InDelta(t, 2.0, msg.ConsumedAvg, 0.001)

	bc := stats.Actions["broadcast"]
	assert.Equal(t, 0, bc.TrackedIdentities)
	assert.Equal(t, 0, bc.ConsumedTotal)
}
