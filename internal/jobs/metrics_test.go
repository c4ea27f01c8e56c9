package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("ticket:autoclose").End(nil))
	boom := errors.New("boom")
	assert.Equal(t, boom, m.Track("ticket:autoclose").End(boom))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ticket:autoclose", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ticket:autoclose", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ticket:autoclose")))
}

func TestAddSwept(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddSwept("closed", 3)
	m.AddSwept("closed", 0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.swept.WithLabelValues("closed")))
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.AddSwept("closed", 1)
	assert.NoError(t, m.Track("x").End(nil))
}
