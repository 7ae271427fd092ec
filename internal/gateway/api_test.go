// ABOUTME: Tests for the gateway's HTTP API endpoints.
// ABOUTME: Covers the metrics snapshot, histogram read, health, and Prometheus scrape.

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthEndpoint(t *testing.T) {
	tg := setupTestGateway(t, nil)

	var body map[string]interface{}
	getJSON(t, tg.server.URL+"/health", &body)

	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "uptime_seconds")
	assert.Contains(t, body, "connections")
}

func TestMetricsSnapshotEndpoint(t *testing.T) {
	tg := setupTestGateway(t, nil)
	ctx := context.Background()

	tg.metrics.IncrementCounter(ctx, "messages.received")
	tg.metrics.IncrementCounter(ctx, "messages.received")
	tg.metrics.UpdateGauge(ctx, "connections.active", 1)

	// Consume one point so the rate limiter has something to report.
	tg.connect(t, "alice")

	var body map[string]interface{}
	getJSON(t, tg.server.URL+"/api/metrics", &body)

	messages, ok := body["messages"].(map[string]interface{})
	require.True(t, ok, "expected nested messages section, got %v", body)
	assert.EqualValues(t, 2, messages["received"])

	rl, ok := body["rateLimit"].(map[string]interface{})
	require.True(t, ok, "expected rateLimit section, got %v", body)
	assert.Contains(t, rl, "actions")
	assert.Contains(t, rl, "blocked")
	assert.Contains(t, rl, "warnings")

	actions, ok := rl["actions"].(map[string]interface{})
	require.True(t, ok)
	connection, ok := actions["connection"].(map[string]interface{})
	require.True(t, ok, "expected connection action stats, got %v", actions)
	assert.EqualValues(t, 1, connection["trackedIdentities"])
}

func TestHistogramEndpoint(t *testing.T) {
	tg := setupTestGateway(t, nil)
	ctx := context.Background()

	tg.metrics.RecordTiming(ctx, "gateway.messageHandling", 5*time.Millisecond)
	tg.metrics.RecordTiming(ctx, "gateway.messageHandling", 12*time.Millisecond)

	var body map[string]interface{}
	getJSON(t, tg.server.URL+"/api/metrics/histogram?name=gateway.messageHandling", &body)

	assert.Equal(t, "gateway.messageHandling", body["name"])
	assert.EqualValues(t, 2, body["count"])

	samples, ok := body["samples"].([]interface{})
	require.True(t, ok)
	// Newest first.
	assert.EqualValues(t, 12, samples[0])
	assert.EqualValues(t, 5, samples[1])
}

func TestHistogramEndpointRequiresName(t *testing.T) {
	tg := setupTestGateway(t, nil)

	resp, err := http.Get(tg.server.URL + "/api/metrics/histogram")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPrometheusScrape(t *testing.T) {
	tg := setupTestGateway(t, nil)
	tg.connect(t, "alice")

	resp, err := http.Get(tg.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pulse_connections_active")
	assert.Contains(t, string(body), "pulse_connections_total")
}
