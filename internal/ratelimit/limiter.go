// ABOUTME: Fixed-window rate limiter over the shared counter store.
// ABOUTME: One window key per (identity, action) holding the remaining point budget.

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pulsehq/pulse-gateway/internal/metrics"
	"github.com/pulsehq/pulse-gateway/internal/store"
)

// ErrUnknownAction indicates a rate-limit check for an action that has no
// configured quota. This is a deployment/config mismatch, not client abuse,
// so it must not be silently absorbed as an allow or a deny.
var ErrUnknownAction = errors.New("unknown rate limit action")

const keyPrefix = "ratelimit:"

// Metric names emitted by the limiter.
const (
	blockedMetric = "rateLimit.blocked"
	warningMetric = "rateLimit.warnings"
)

// warnFraction is the share of the budget at or below which a warning
// metric is emitted.
const warnFraction = 0.2

// Quota is the point budget for one action within one fixed window.
type Quota struct {
	Points int
	Window time.Duration
}

// RemainingInfo reports the unconsumed budget for an (identity, action) pair
// and when the current window resets. With no active window, Remaining is the
// full budget and ResetAt is now.
type RemainingInfo struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// ActionStats aggregates current consumption for one configured action.
type ActionStats struct {
	TrackedIdentities int     `json:"trackedIdentities"`
	ConsumedTotal     int     `json:"consumedTotal"`
	ConsumedAvg       float64 `json:"consumedAvg"`
}

// Stats is the limiter-wide aggregate exposed on the metrics API.
type Stats struct {
	Actions  map[string]ActionStats `json:"actions"`
	Blocked  int64                  `json:"blocked"`
	Warnings int64                  `json:"warnings"`
}

// Limiter enforces a fixed-window quota per (identity, action) pair. The
// window state lives entirely in the shared store with a TTL equal to the
// window duration; the limiter never holds it in memory beyond one check, so
// any number of gateway instances can share the same budgets.
//
// A fixed window is intentionally simple and cheap (one decrement per check)
// at the cost of permitting up to 2x burst at window boundaries. The limiter
// protects against abuse, not fairness-critical scheduling.
type Limiter struct {
	store   store.Store
	metrics *metrics.Collector
	quotas  map[string]Quota
	logger  *slog.Logger
}

// NewLimiter creates a Limiter with a static action→quota table.
func NewLimiter(s store.Store, m *metrics.Collector, quotas map[string]Quota, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:   s,
		metrics: m,
		quotas:  quotas,
		logger:  logger.With("component", "ratelimit"),
	}
}

func windowKey(action, identity string) string {
	return keyPrefix + action + ":" + identity
}

// Allow consumes one point from the identity's window for action and reports
// whether the operation may proceed. A store error fails the check: the
// caller must not let traffic silently bypass quota enforcement.
func (l *Limiter) Allow(ctx context.Context, identity, action string) (bool, error) {
	quota, ok := l.quotas[action]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	key := windowKey(action, identity)

	// Two attempts: the window can expire between the SetNX and the Get.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := l.store.SetNX(ctx, key, strconv.Itoa(quota.Points-1), quota.Window)
		if err != nil {
			return false, fmt.Errorf("creating window %s: %w", key, err)
		}
		if created {
			l.maybeWarn(ctx, identity, action, quota, quota.Points-1)
			return true, nil
		}

		raw, err := l.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("reading window %s: %w", key, err)
		}

		remaining, _ := strconv.Atoi(raw)
		if remaining <= 0 {
			l.metrics.IncrementCounter(ctx, blockedMetric)
			return false, nil
		}

		n, err := l.store.DecrBy(ctx, key, 1)
		if err != nil {
			return false, fmt.Errorf("consuming point %s: %w", key, err)
		}
		if n < 0 {
			// Two ways here: a concurrent check drained the window between
			// our read and decrement (key still has its TTL), or the window
			// expired in that gap and the decrement recreated the key with
			// no TTL. The latter must not stand: a window key without
			// expiry blocks the identity forever.
			ttl, terr := l.store.TTL(ctx, key)
			if errors.Is(terr, store.ErrNotFound) {
				continue
			}
			if terr != nil {
				return false, fmt.Errorf("reading window ttl %s: %w", key, terr)
			}
			if ttl == 0 {
				if derr := l.store.Del(ctx, key); derr != nil {
					return false, fmt.Errorf("resetting window %s: %w", key, derr)
				}
				continue
			}
			l.metrics.IncrementCounter(ctx, blockedMetric)
			return false, nil
		}

		l.maybeWarn(ctx, identity, action, quota, int(n))
		return true, nil
	}

	// The window expired twice in a row under us; allow and let the next
	// check create it.
	return true, nil
}

// maybeWarn emits the warning metric when the remaining budget has dropped
// to or below the warn threshold.
func (l *Limiter) maybeWarn(ctx context.Context, identity, action string, quota Quota, remaining int) {
	if float64(remaining) > float64(quota.Points)*warnFraction {
		return
	}
	l.metrics.IncrementCounter(ctx, warningMetric)
	l.logger.Warn("rate limit nearly exhausted",
		"identity", identity,
		"action", action,
		"remaining", remaining,
		"budget", quota.Points,
	)
}

// Remaining reports the unconsumed budget without mutating the window.
func (l *Limiter) Remaining(ctx context.Context, identity, action string) (RemainingInfo, error) {
	quota, ok := l.quotas[action]
	if !ok {
		return RemainingInfo{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	key := windowKey(action, identity)

	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return RemainingInfo{Remaining: quota.Points, ResetAt: time.Now()}, nil
	}
	if err != nil {
		return RemainingInfo{}, fmt.Errorf("reading window %s: %w", key, err)
	}

	remaining, _ := strconv.Atoi(raw)
	if remaining < 0 {
		remaining = 0
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return RemainingInfo{}, fmt.Errorf("reading window ttl %s: %w", key, err)
	}

	return RemainingInfo{Remaining: remaining, ResetAt: time.Now().Add(ttl)}, nil
}

// Snapshot aggregates, per configured action, the number of currently
// tracked identities and their consumed points, plus today's cumulative
// blocked/warning counts from the metrics collector.
func (l *Limiter) Snapshot(ctx context.Context) (Stats, error) {
	stats := Stats{Actions: make(map[string]ActionStats, len(l.quotas))}

	for action, quota := range l.quotas {
		keys, err := l.store.Scan(ctx, keyPrefix+action+":*")
		if err != nil {
			return Stats{}, fmt.Errorf("scanning windows for %s: %w", action, err)
		}

		as := ActionStats{TrackedIdentities: len(keys)}
		for _, key := range keys {
			raw, err := l.store.Get(ctx, key)
			if errors.Is(err, store.ErrNotFound) {
				as.TrackedIdentities--
				continue
			}
			if err != nil {
				return Stats{}, fmt.Errorf("reading window %s: %w", key, err)
			}
			remaining, _ := strconv.Atoi(raw)
			if remaining < 0 {
				remaining = 0
			}
			as.ConsumedTotal += quota.Points - remaining
		}
		if as.TrackedIdentities > 0 {
			as.ConsumedAvg = float64(as.ConsumedTotal) / float64(as.TrackedIdentities)
		}
		stats.Actions[action] = as
	}

	blocked, err := l.metrics.Counter(ctx, blockedMetric)
	if err != nil {
		return Stats{}, err
	}
	warnings, err := l.metrics.Counter(ctx, warningMetric)
	if err != nil {
		return Stats{}, err
	}
	stats.Blocked = blocked
	stats.Warnings = warnings

	return stats, nil
}
