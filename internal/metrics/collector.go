// ABOUTME: Day-partitioned metrics collector over the shared counter store.
// ABOUTME: Counters, gauges, and bounded histograms; best-effort writes, fail-fast reads.

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pulsehq/pulse-gateway/internal/store"
)

const (
	counterPrefix   = "metrics:counter:"
	gaugePrefix     = "metrics:gauge:"
	histogramPrefix = "metrics:hist:"

	// DefaultRetention is how long a day partition lives before the store
	// self-prunes it.
	DefaultRetention = 24 * time.Hour

	// DefaultHistogramCap bounds each histogram to its most recent samples.
	DefaultHistogramCap = 1000
)

// Collector records operational metrics into the shared counter store,
// partitioned by UTC calendar day. Writes are best-effort: the caller's
// primary operation must never fail because a metric could not be recorded.
// Reads fail fast instead, since silently-wrong data is worse than an error.
type Collector struct {
	store        store.Store
	logger       *slog.Logger
	retention    time.Duration
	histogramCap int64
	now          func() time.Time
}

// NewCollector creates a Collector. A retention of zero falls back to
// DefaultRetention; a histogramCap of zero falls back to DefaultHistogramCap.
func NewCollector(s store.Store, retention time.Duration, histogramCap int, logger *slog.Logger) *Collector {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if histogramCap <= 0 {
		histogramCap = DefaultHistogramCap
	}
	return &Collector{
		store:        s,
		logger:       logger.With("component", "metrics"),
		retention:    retention,
		histogramCap: int64(histogramCap),
		now:          time.Now,
	}
}

// day returns the current UTC calendar-day partition suffix.
func (c *Collector) day() string {
	return c.now().UTC().Format("2006-01-02")
}

func (c *Collector) counterKey(name string) string {
	return counterPrefix + name + ":" + c.day()
}

func (c *Collector) gaugeKey(name string) string {
	return gaugePrefix + name + ":" + c.day()
}

func (c *Collector) histogramKey(name string) string {
	return histogramPrefix + name + ":" + c.day()
}

// IncrementCounter adds one to today's counter partition for name.
func (c *Collector) IncrementCounter(ctx context.Context, name string) {
	c.Add(ctx, name, 1)
}

// Add adds n (which may be negative) to today's counter partition for name,
// creating the key with the retention TTL if absent. Store errors are logged
// and swallowed.
func (c *Collector) Add(ctx context.Context, name string, n int64) {
	key := c.counterKey(name)
	if _, err := c.store.IncrBy(ctx, key, n); err != nil {
		c.logger.Warn("counter write failed", "name", name, "error", err)
		return
	}
	if err := c.store.Expire(ctx, key, c.retention); err != nil {
		c.logger.Warn("counter expire failed", "name", name, "error", err)
	}
}

// UpdateGauge overwrites today's gauge partition for name. Last write wins;
// negative and fractional values are accepted.
func (c *Collector) UpdateGauge(ctx context.Context, name string, value float64) {
	key := c.gaugeKey(name)
	val := strconv.FormatFloat(value, 'f', -1, 64)
	if err := c.store.Set(ctx, key, val, c.retention); err != nil {
		c.logger.Warn("gauge write failed", "name", name, "error", err)
	}
}

// RecordTiming pushes a duration sample (in milliseconds) onto the front of
// today's histogram for name and trims it to the cap. Histograms back
// percentile queries, which only need a recent bounded sample, not an
// unbounded log.
func (c *Collector) RecordTiming(ctx context.Context, name string, d time.Duration) {
	key := c.histogramKey(name)
	sample := strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', -1, 64)

	if err := c.store.LPush(ctx, key, sample); err != nil {
		c.logger.Warn("histogram write failed", "name", name, "error", err)
		return
	}
	if err := c.store.LTrim(ctx, key, 0, c.histogramCap-1); err != nil {
		c.logger.Warn("histogram trim failed", "name", name, "error", err)
	}
	if err := c.store.Expire(ctx, key, c.retention); err != nil {
		c.logger.Warn("histogram expire failed", "name", name, "error", err)
	}
}

// Counter reads today's value for a single counter. A missing key reads as
// zero; store unavailability propagates.
func (c *Collector) Counter(ctx context.Context, name string) (int64, error) {
	val, err := c.store.Get(ctx, c.counterKey(name))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading counter %s: %w", name, err)
	}
	n, _ := strconv.ParseInt(val, 10, 64)
	return n, nil
}

// Snapshot enumerates today's counters and gauges and reconstructs a nested
// mapping from dotted metric names, e.g. "connections.active" becomes
// {"connections": {"active": N}}. Malformed stored values read as zero; the
// read path must never crash on corrupt data.
func (c *Collector) Snapshot(ctx context.Context) (map[string]interface{}, error) {
	out := make(map[string]interface{})

	if err := c.collect(ctx, out, counterPrefix); err != nil {
		return nil, err
	}
	if err := c.collect(ctx, out, gaugePrefix); err != nil {
		return nil, err
	}
	return out, nil
}

// collect reads all of today's keys under prefix into the nested map.
func (c *Collector) collect(ctx context.Context, out map[string]interface{}, prefix string) error {
	day := c.day()
	keys, err := c.store.Scan(ctx, prefix+"*:"+day)
	if err != nil {
		return fmt.Errorf("scanning metrics: %w", err)
	}

	for _, key := range keys {
		name := strings.TrimPrefix(key, prefix)
		name = strings.TrimSuffix(name, ":"+day)

		raw, err := c.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // expired between scan and read
			}
			return fmt.Errorf("reading metric %s: %w", name, err)
		}

		value, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil {
			value = 0
		}
		insertNested(out, name, value)
	}
	return nil
}

// Histogram returns today's bounded sample list for name, newest first.
// Non-numeric entries coerce to zero.
func (c *Collector) Histogram(ctx context.Context, name string) ([]float64, error) {
	raw, err := c.store.LRange(ctx, c.histogramKey(name), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("reading histogram %s: %w", name, err)
	}

	samples := make([]float64, len(raw))
	for i, v := range raw {
		f, parseErr := strconv.ParseFloat(v, 64)
		if parseErr != nil {
			f = 0
		}
		samples[i] = f
	}
	return samples, nil
}

// insertNested places value into the map following the dotted path in name.
// An intermediate segment that already holds a scalar is replaced by a map;
// with well-formed metric names this does not happen.
func insertNested(m map[string]interface{}, name string, value float64) {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		if i == len(parts)-1 {
			m[part] = value
			return
		}
		child, ok := m[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			m[part] = child
		}
		m = child
	}
}
