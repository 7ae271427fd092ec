// ABOUTME: Process-local prometheus instrumentation for the gateway.
// ABOUTME: Complements the store-backed collector; exposed at GET /metrics.

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics carries the gateway's prometheus instruments on a private
// registry so multiple gateways (tests included) never collide on the global
// one.
type promMetrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	framesTotal       *prometheus.CounterVec
	queuedDeliveries  prometheus.Counter
}

func newPromMetrics() *promMetrics {
	p := &promMetrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_connections_active",
			Help: "Number of currently open connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_connections_total",
			Help: "Total connections accepted since start.",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_frames_total",
			Help: "Inbound frames by handling result.",
		}, []string{"result"}),
		queuedDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_queued_deliveries_total",
			Help: "Messages delivered from offline queues on authentication.",
		}),
	}

	p.registry.MustRegister(
		p.connectionsActive,
		p.connectionsTotal,
		p.framesTotal,
		p.queuedDeliveries,
	)
	return p
}

// Frame handling results for framesTotal.
const (
	resultOK          = "ok"
	resultRateLimited = "rate_limited"
	resultMalformed   = "malformed"
	resultRejected    = "rejected"
)
