package rtshare

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics holds the prometheus instruments published by a RelayServer.
type RelayMetrics struct {
	// Requests counts handled tunnel requests, labeled by command and
	// outcome ("ok", "client_error", "server_error").
	Requests *prometheus.CounterVec

	// RelayBytes counts payload bytes relayed between tunnel clients and the
	// target RMI server, labeled by direction ("to_target", "from_target").
	RelayBytes *prometheus.CounterVec

	// ActiveForwards is the number of relay round-trips currently in flight.
	ActiveForwards prometheus.Gauge
}

// NewRelayMetrics creates the relay instrument set and registers it with reg.
// A nil reg leaves the instruments unregistered; they still work, but nothing
// scrapes them. Exposing a /metrics endpoint is the hosting process's concern.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rmitunnel_requests_total",
			Help: "Total number of tunnel requests handled, labeled by command and outcome.",
		}, []string{"command", "outcome"}),
		RelayBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rmitunnel_relay_bytes_total",
			Help: "Total payload bytes relayed to and from the target RMI server.",
		}, []string{"direction"}),
		ActiveForwards: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rmitunnel_active_forwards",
			Help: "Number of relay round-trips currently in flight.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.RelayBytes, m.ActiveForwards)
	}
	return m
}
