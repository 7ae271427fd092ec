// ABOUTME: Store-backed per-identity FIFO queue for messages sent to offline identities.
// ABOUTME: Enqueued on send-to-identity misses, drained on the next successful authentication.

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsehq/pulse-gateway/internal/store"
)

const keyPrefix = "queue:"

// Message is one queued payload. The payload is opaque to the gateway; only
// ordering and the enqueue time matter here.
type Message struct {
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Queue persists messages for identities with no live connection. The queue
// belongs to the identity, not to any connection, and lives in the shared
// store so it survives gateway restarts. Delivery is strictly FIFO per
// identity; there is no dedup and no priority.
//
// Draining is a two-step Peek/Clear so the caller can deliver everything
// before anything is removed: a failure mid-drain leaves the whole batch
// queued for the next reconnect instead of dropping it.
type Queue struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Queue over the given store.
func New(s store.Store, logger *slog.Logger) *Queue {
	return &Queue{
		store:  s,
		logger: logger.With("component", "queue"),
	}
}

func key(identity string) string {
	return keyPrefix + identity
}

// Enqueue appends a payload to the identity's queue.
func (q *Queue) Enqueue(ctx context.Context, identity string, payload json.RawMessage) error {
	msg := Message{Payload: payload, EnqueuedAt: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding queued message: %w", err)
	}

	if err := q.store.RPush(ctx, key(identity), string(data)); err != nil {
		return fmt.Errorf("enqueueing for %s: %w", identity, err)
	}
	return nil
}

// Peek returns all queued messages for the identity in enqueue order without
// removing them, plus the number of raw entries seen (the count to pass to
// Clear once everything is delivered). Entries that fail to decode are
// skipped with a warning; the drain path must never wedge on one corrupt
// entry, but corrupt entries still count toward the Clear prefix.
func (q *Queue) Peek(ctx context.Context, identity string) ([]Message, int64, error) {
	raw, err := q.store.LRange(ctx, key(identity), 0, -1)
	if err != nil {
		return nil, 0, fmt.Errorf("reading queue for %s: %w", identity, err)
	}
	if len(raw) == 0 {
		return nil, 0, nil
	}

	messages := make([]Message, 0, len(raw))
	for _, entry := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			q.logger.Warn("discarding undecodable queued message",
				"identity", identity,
				"error", err,
			)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, int64(len(raw)), nil
}

// Clear removes the first seen entries of the identity's queue after they
// have been delivered. Trimming a prefix rather than deleting the key means
// a message enqueued between Peek and Clear survives.
func (q *Queue) Clear(ctx context.Context, identity string, seen int64) error {
	if err := q.store.LTrim(ctx, key(identity), seen, -1); err != nil {
		return fmt.Errorf("clearing queue for %s: %w", identity, err)
	}
	return nil
}

// Len reports how many messages are queued for the identity.
func (q *Queue) Len(ctx context.Context, identity string) (int64, error) {
	n, err := q.store.LLen(ctx, key(identity))
	if err != nil {
		return 0, fmt.Errorf("reading queue length for %s: %w", identity, err)
	}
	return n, nil
}
