// ABOUTME: Store interface for the shared counter store backing rate limits,
// ABOUTME: metrics, and offline message queues across gateway instances.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested key does not exist (or has expired).
var ErrNotFound = errors.New("key not found")

// ErrUnavailable indicates the store itself could not be reached. Callers use
// this to distinguish an outage from an ordinary key miss.
var ErrUnavailable = errors.New("store unavailable")

// Store is the shared counter store consumed by the rate limiter, the metrics
// collector, and the offline queue. Implementations must make IncrBy, DecrBy,
// and SetNX atomic; that atomicity is the only mutual-exclusion primitive the
// gateway relies on, which is what allows multiple gateway instances to share
// one store without coordination.
type Store interface {
	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key. A positive ttl bounds the key's lifetime;
	// zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes value at key only if the key does not exist. Returns
	// true if the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// IncrBy atomically adds n to the integer at key (creating it at 0)
	// and returns the new value.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// DecrBy atomically subtracts n from the integer at key and returns
	// the new value.
	DecrBy(ctx context.Context, key string, n int64) (int64, error)

	// Expire sets or refreshes the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of key. Returns ErrNotFound for a
	// missing key and zero for a key with no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// LPush prepends values to the list at key (newest first).
	LPush(ctx context.Context, key string, values ...string) error

	// RPush appends values to the list at key (FIFO enqueue).
	RPush(ctx context.Context, key string, values ...string) error

	// LTrim trims the list at key to the inclusive range [start, stop].
	// Negative indexes count from the tail, -1 being the last element.
	LTrim(ctx context.Context, key string, start, stop int64) error

	// LRange returns the elements of the list at key in the inclusive
	// range [start, stop]. A missing key yields an empty slice.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LLen returns the length of the list at key (0 for a missing key).
	LLen(ctx context.Context, key string) (int64, error)

	// Del removes the given keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// Scan returns all keys matching the glob-style pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Close releases the underlying client resources.
	Close() error
}
