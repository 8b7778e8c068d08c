package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePass("local", "ok", 20*time.Millisecond)
	m.ObservePass("local", "ok", 30*time.Millisecond)
	m.ItemsDecremented("local", 3)
	m.ItemsDecremented("local", 0)
	m.AlertAction("remote", "created")
	m.TriggerDropped("foreground")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.passes.WithLabelValues("local", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.itemsDecremented.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertActions.WithLabelValues("remote", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.triggersDropped.WithLabelValues("foreground")))
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePass("local", "ok", time.Second)
		m.ItemsDecremented("local", 1)
		m.ItemSkipped("local", "malformed_rate")
		m.ItemWritesFailed("local", 1)
		m.AlertAction("local", "deleted")
		m.TriggerDropped("timer")
	})
}
