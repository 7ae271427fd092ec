// Package gateway terminates client websocket connections and moves
// messages between clients and the rest of the system.
//
// # Connection lifecycle
//
// Every connection walks a strict state machine:
//
//	Connecting -> AwaitingAuth -> Authenticated -> Closed
//
// After the upgrade a connection sits in AwaitingAuth with a read deadline
// equal to the configured auth timeout. The first frame must be an auth
// frame carrying a JWT; anything else is answered with an error frame and
// the deadline keeps ticking. A valid token binds the connection to the
// token's subject identity, at most one live connection per identity; a
// second authentication for the same identity displaces the first.
//
// Immediately after a successful handshake the identity's offline queue is
// drained, oldest message first, before any new inbound frame is processed.
// Messages sent to an offline identity via SendToIdentity land on that
// queue, so a client always observes its backlog in order and ahead of new
// traffic.
//
// # Dispatch
//
// Authenticated frames are charged against the per-identity rate limiter
// before any processing: the frame type selects the action (broadcast
// frames charge the broadcast bucket, everything else the message bucket).
// A limited frame is answered with {"type":"error","error":"Rate limit
// exceeded"} and dropped. Allowed frames go to the Router, whose handlers
// are registered per frame type; broadcast frames fan out to every other
// authenticated connection, each recipient charged independently.
//
// # HTTP surface
//
// Besides the websocket endpoint at /ws the gateway serves /api/metrics
// (day-partitioned counters and gauges plus rate-limit statistics),
// /api/metrics/histogram, /health, and a Prometheus scrape at /metrics.
// The listener is plain TCP or, when configured, a tsnet node on a
// tailnet.
package gateway
