package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all client session metrics.
type Registry struct {
	// Session lifecycle
	ConnectAttempts *prometheus.CounterVec
	ConnectFailures *prometheus.CounterVec
	AuthAttempts    *prometheus.CounterVec
	SessionStatus   prometheus.Gauge

	// Tunnel metrics
	ActiveTunnel        prometheus.Gauge
	TunnelSetupDuration prometheus.Histogram
	TunnelFailures      *prometheus.CounterVec

	// Routing metrics
	RouteOperations *prometheus.CounterVec
	RouteFailures   *prometheus.CounterVec

	// Tunnel interface traffic
	TunnelRxBytes prometheus.Gauge
	TunnelTxBytes prometheus.Gauge

	// Diagnostics
	ExternalIPLookups *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnse_connect_attempts_total",
		Help: "Total control channel connection attempts",
	}, []string{"server"})

	r.ConnectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnse_connect_failures_total",
		Help: "Total failed connection attempts by error kind",
	}, []string{"server", "kind"})

	r.AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnse_auth_attempts_total",
		Help: "Total authentication attempts by outcome",
	}, []string{"status"})

	r.SessionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vpnse_session_status",
		Help: "Current session status (0=disconnected, 1=connecting, 2=connected, 3=tunneling)",
	})

	r.ActiveTunnel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vpnse_tunnel_active",
		Help: "Whether a tunnel is currently established (0 or 1)",
	})

	r.TunnelSetupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vpnse_tunnel_setup_duration_seconds",
		Help:    "Time taken to bring up the tunnel device and routes",
		Buckets: prometheus.DefBuckets,
	})

	r.TunnelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnse_tunnel_failures_total",
		Help: "Total tunnel establishment failures by error kind",
	}, []string{"kind"})

	r.RouteOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnse_route_operations_total",
		Help: "Total routing table operations",
	}, []string{"op"})

	r.RouteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnse_route_failures_total",
		Help: "Total failed routing table operations",
	}, []string{"op"})

	r.TunnelRxBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vpnse_tunnel_rx_bytes",
		Help: "Bytes received on the tunnel interface",
	})

	r.TunnelTxBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vpnse_tunnel_tx_bytes",
		Help: "Bytes transmitted on the tunnel interface",
	})

	r.ExternalIPLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnse_external_ip_lookups_total",
		Help: "Total external address lookups by provider and outcome",
	}, []string{"provider", "status"})

	return r
}

// RecordConnectAttempt records a connection attempt against a server.
func (r *Registry) RecordConnectAttempt(server string) {
	r.ConnectAttempts.WithLabelValues(server).Inc()
}

// RecordConnectFailure records a failed connection attempt.
func (r *Registry) RecordConnectFailure(server, kind string) {
	r.ConnectFailures.WithLabelValues(server, kind).Inc()
}

// RecordAuth records an authentication attempt outcome.
func (r *Registry) RecordAuth(ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	r.AuthAttempts.WithLabelValues(status).Inc()
}

// RecordRouteOp records a routing table operation and its outcome.
func (r *Registry) RecordRouteOp(op string, err error) {
	r.RouteOperations.WithLabelValues(op).Inc()
	if err != nil {
		r.RouteFailures.WithLabelValues(op).Inc()
	}
}

// SetSessionStatus publishes the numeric session status.
func (r *Registry) SetSessionStatus(status int) {
	r.SessionStatus.Set(float64(status))
}

// SetTunnelActive flips the active tunnel gauge.
func (r *Registry) SetTunnelActive(active bool) {
	if active {
		r.ActiveTunnel.Set(1)
	} else {
		r.ActiveTunnel.Set(0)
	}
}
