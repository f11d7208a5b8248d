package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnAccepted()
	m.ConnAccepted()
	m.ConnRejected()
	m.ConnClosed(ReasonIdle)
	m.QueueFull()
	m.Response(200)
	m.Response(200)
	m.Response(404)
	m.BytesSent(120)
	m.BytesSent(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.accepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions.WithLabelValues(ReasonIdle)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueFull))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.responses.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues("404")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.bytesSent))
}

func TestMetrics_nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnAccepted()
		m.ConnRejected()
		m.ConnClosed(ReasonDone)
		m.QueueFull()
		m.Response(500)
		m.BytesSent(10)
	})
}

func TestNew_duplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
