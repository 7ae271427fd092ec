// ABOUTME: HTTP surface for the gateway: websocket endpoint, metrics and
// ABOUTME: rate-limit introspection APIs, health check, and Prometheus scrape.

package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes builds the gateway's HTTP mux.
func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/api/metrics", g.handleMetricsSnapshot)
	mux.HandleFunc("/api/metrics/histogram", g.handleHistogram)
	mux.HandleFunc("/health", g.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(g.prom.registry, promhttp.HandlerOpts{}))
	return mux
}

// handleMetricsSnapshot returns today's counters and gauges as a nested JSON
// object, with the rate limiter's per-action statistics merged under the
// rateLimit key.
func (g *Gateway) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := g.metrics.Snapshot(r.Context())
	if err != nil {
		g.logger.Error("metrics snapshot failed", "error", err)
		http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		return
	}

	stats, err := g.limiter.Snapshot(r.Context())
	if err != nil {
		g.logger.Error("rate limit snapshot failed", "error", err)
		http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		return
	}

	rl, _ := snap["rateLimit"].(map[string]interface{})
	if rl == nil {
		rl = make(map[string]interface{})
	}
	rl["actions"] = stats.Actions
	rl["blocked"] = stats.Blocked
	rl["warnings"] = stats.Warnings
	snap["rateLimit"] = rl

	writeJSON(w, http.StatusOK, snap)
}

// handleHistogram returns the retained samples for one named histogram,
// newest first.
func (g *Gateway) handleHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name parameter required", http.StatusBadRequest)
		return
	}

	samples, err := g.metrics.Histogram(r.Context(), name)
	if err != nil {
		g.logger.Error("histogram read failed", "name", name, "error", err)
		http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    name,
		"count":   len(samples),
		"samples": samples,
	})
}

// handleHealth reports liveness plus basic process stats.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(g.startedAt).Seconds()),
		"connections":    g.manager.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
