// ABOUTME: Tests for the day-partitioned metrics collector.
// ABOUTME: Covers counters, gauges, histogram bounding, snapshots, and corrupt data.

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse-gateway/internal/store"
)

func setupCollector(t *testing.T) (*Collector, *store.MemStore) {
	t.Helper()
	s := store.NewMemStore()
	c := NewCollector(s, time.Hour, 5, slog.Default())
	return c, s
}

func TestCollector_Counters(t *testing.T) {
	c, _ := setupCollector(t)
	ctx := context.Background()

	c.IncrementCounter(ctx, "connections.total")
	c.IncrementCounter(ctx, "connections.total")
	c.Add(ctx, "connections.total", 3)

	n, err := c.Counter(ctx, "connections.total")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	t.Run("missing counter reads as zero", func(t *testing.T) {
		n, err := c.Counter(ctx, "never.written")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("negative add decrements", func(t *testing.T) {
		c.Add(ctx, "connections.active", 2)
		c.Add(ctx, "connections.active", -1)
		n, err := c.Counter(ctx, "connections.active")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestCollector_GaugeLastWriteWins(t *testing.T) {
	c, _ := setupCollector(t)
	ctx := context.Background()

	c.UpdateGauge(ctx, "queue.depth", 10)
	c.UpdateGauge(ctx, "queue.depth", -2.5)

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)

	queue, ok := snap["queue"].(map[string]interface{})
	require.True(t, ok, "expected nested queue section, got %#v", snap)
	assert.Equal(t, -2.5, queue["depth"])
}

func TestCollector_HistogramBounded(t *testing.T) {
	c, _ := setupCollector(t) // cap of 5
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		c.RecordTiming(ctx, "gateway.messageHandling", time.Duration(i)*time.Millisecond)
	}

	samples, err := c.Histogram(ctx, "gateway.messageHandling")
	require.NoError(t, err)

	// Exactly the cap, newest first.
	assert.Equal(t, []float64{8, 7, 6, 5, 4}, samples)
}

func TestCollector_SnapshotNestedNames(t *testing.T) {
	c, _ := setupCollector(t)
	ctx := context.Background()

	c.IncrementCounter(ctx, "connections.active")
	c.IncrementCounter(ctx, "rateLimit.blocked")
	c.UpdateGauge(ctx, "uptime", 42)

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)

	connections := snap["connections"].(map[string]interface{})
	assert.Equal(t, float64(1), connections["active"])

	rateLimit := snap["rateLimit"].(map[string]interface{})
	assert.Equal(t, float64(1), rateLimit["blocked"])

	assert.Equal(t, float64(42), snap["uptime"])
}

func TestCollector_CorruptValuesCoerceToZero(t *testing.T) {
	c, s := setupCollector(t)
	ctx := context.Background()

	day := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, s.Set(ctx, "metrics:counter:bad.value:"+day, "not-a-number", 0))
	require.NoError(t, s.LPush(ctx, "metrics:hist:bad.hist:"+day, "garbage", "1.5"))

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	bad := snap["bad"].(map[string]interface{})
	assert.Equal(t, float64(0), bad["value"])

	samples, err := c.Histogram(ctx, "bad.hist")
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 0}, samples)
}

// failingStore wraps a MemStore and fails every operation, standing in for an
// unreachable backend.
type failingStore struct {
	*store.MemStore
}

var errDown = fmt.Errorf("%w: connection refused", store.ErrUnavailable)

func (f *failingStore) IncrBy(context.Context, string, int64) (int64, error) {
	return 0, errDown
}

func (f *failingStore) Set(context.Context, string, string, time.Duration) error {
	return errDown
}

func (f *failingStore) LPush(context.Context, string, ...string) error {
	return errDown
}

func (f *failingStore) Scan(context.Context, string) ([]string, error) {
	return nil, errDown
}

func (f *failingStore) LRange(context.Context, string, int64, int64) ([]string, error) {
	return nil, errDown
}

func TestCollector_WritesBestEffortReadsFailFast(t *testing.T) {
	s := &failingStore{MemStore: store.NewMemStore()}
	c := NewCollector(s, time.Hour, 5, slog.Default())
	ctx := context.Background()

	// Writes swallow the outage.
	c.IncrementCounter(ctx, "connections.total")
	c.UpdateGauge(ctx, "uptime", 1)
	c.RecordTiming(ctx, "gateway.messageHandling", time.Millisecond)

	// Reads surface it.
	_, err := c.Snapshot(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnavailable))

	_, err = c.Histogram(ctx, "gateway.messageHandling")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}
