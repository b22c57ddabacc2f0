package client

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors of the XSWD client.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	responsesTotal    *prometheus.CounterVec
	unmatchedFrames   prometheus.Counter
	inflight          prometheus.Gauge
	permissionPending prometheus.Gauge
	requestDuration   *prometheus.HistogramVec
	connectionState   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xswd",
			Name:      "requests_total",
			Help:      "Requests written to the XSWD connection.",
		}, []string{"method"}),
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xswd",
			Name:      "responses_total",
			Help:      "Responses correlated to a pending request, by outcome.",
		}, []string{"method", "outcome"}),
		unmatchedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xswd",
			Name:      "unmatched_frames_total",
			Help:      "Inbound frames that matched no pending request.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xswd",
			Name:      "inflight_requests",
			Help:      "Requests waiting for a response.",
		}),
		permissionPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xswd",
			Name:      "permission_pending_requests",
			Help:      "Requests waiting for the user to grant permission.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xswd",
			Name:      "request_duration_seconds",
			Help:      "Round trip time of correlated requests.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 2, 5, 10, 30, 60},
		}, []string{"method"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xswd",
			Name:      "connection_state",
			Help:      "Current connection state (-1 unreachable, 0 unknown, 1 waiting, 2 connected, 3 refused).",
		}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.responsesTotal,
		m.unmatchedFrames,
		m.inflight,
		m.permissionPending,
		m.requestDuration,
		m.connectionState,
	)
	return m
}
