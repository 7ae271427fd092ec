// Package ratelimit enforces fixed-window quotas per (identity, action)
// pair, with window state held in the shared counter store.
//
// Each window is one store key holding the remaining point budget, created
// with a TTL equal to the window duration. The budget only resets when the
// key expires and is lazily recreated, so remaining points are monotonically
// non-increasing within a window.
//
// Checks emit two metrics: rateLimit.warnings when a window drops to 20% of
// its budget or below, and rateLimit.blocked when a check is denied. Unknown
// actions are a programmer error and return ErrUnknownAction rather than
// silently allowing or denying.
package ratelimit
