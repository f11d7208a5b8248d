// Package metrics exposes the reactor and request counters as prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "filesrv"

// eviction reasons
const (
	ReasonPeerClosed = "peer_closed"
	ReasonIdle       = "idle"
	ReasonIOError    = "io_error"
	ReasonDone       = "done"
	ReasonShutdown   = "shutdown"
)

// Metrics is safe to use as a nil pointer, every method is then a no-op.
type Metrics struct {
	accepted  prometheus.Counter
	rejected  prometheus.Counter
	active    prometheus.Gauge
	evictions *prometheus.CounterVec
	queueFull prometheus.Counter
	responses *prometheus.CounterVec
	bytesSent prometheus.Counter
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "accepted_total",
			Help:      "Total number of accepted connections",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "rejected_total",
			Help:      "Connections closed on accept because the table was full",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "active",
			Help:      "Live connections held by the reactor",
		}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "closed_total",
			Help:      "Closed connections by reason",
		}, []string{"reason"}),
		queueFull: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "queue_full_total",
			Help:      "Requests refused because the task queue was full",
		}),
		responses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "Responses built by status code",
		}, []string{"code"}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "sent_bytes_total",
			Help:      "Bytes written to client sockets",
		}),
	}
}

func (m *Metrics) ConnAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.active.Inc()
}

func (m *Metrics) ConnRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) ConnClosed(reason string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.evictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) QueueFull() {
	if m == nil {
		return
	}
	m.queueFull.Inc()
}

func (m *Metrics) Response(code int) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) BytesSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesSent.Add(float64(n))
}
