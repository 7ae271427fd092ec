// Package store abstracts the shared counter store that holds all
// cross-connection gateway state: rate-limit windows, day-partitioned
// metrics, and per-identity offline message queues.
//
// Two implementations are provided:
//
//   - RedisStore: the production backend, one Redis server shared by every
//     gateway instance. Atomic increments and key TTLs come from Redis
//     itself, so gateway processes hold no authoritative shared state and
//     scale horizontally without coordination.
//   - MemStore: an in-process equivalent for tests and single-node runs,
//     with an injectable clock for exercising TTL expiry.
//
// Errors are normalized to two sentinels: ErrNotFound for a missing or
// expired key, and ErrUnavailable when the store cannot be reached. Callers
// that are best-effort (metrics writes) swallow ErrUnavailable; callers that
// enforce invariants (rate-limit checks, queue drains) fail the operation.
package store
