// Package metrics records counters, gauges, and bounded recent-value
// histograms into the shared counter store, partitioned by UTC calendar day.
//
// # Write vs. read asymmetry
//
// Writes (IncrementCounter, Add, UpdateGauge, RecordTiming) are best-effort:
// a store failure is logged and swallowed so the caller's primary operation
// never fails because a metric could not be recorded. Reads (Snapshot,
// Histogram, Counter) fail fast: returning silently-wrong data to an
// operator is worse than failing the query. This asymmetry is deliberate;
// do not unify it.
//
// # Key layout
//
//	metrics:counter:<name>:<YYYY-MM-DD>
//	metrics:gauge:<name>:<YYYY-MM-DD>
//	metrics:hist:<name>:<YYYY-MM-DD>
//
// Every day partition carries the retention TTL, so the store self-prunes.
// Histograms are lists trimmed to a fixed cap, newest sample first.
package metrics
