package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stockwatch"

// Metrics groups the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	passes           *prometheus.CounterVec
	passDuration     *prometheus.HistogramVec
	itemsDecremented *prometheus.CounterVec
	itemsSkipped     *prometheus.CounterVec
	itemsFailed      *prometheus.CounterVec
	alertActions     *prometheus.CounterVec
	triggersDropped  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decrement_passes_total",
			Help:      "Decrement passes by backend and outcome.",
		}, []string{"backend", "outcome"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decrement_pass_duration_seconds",
			Help:      "Wall time of a decrement pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		itemsDecremented: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_decremented_total",
			Help:      "Items whose quantity was lowered and persisted.",
		}, []string{"backend"}),
		itemsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_skipped_total",
			Help:      "Items skipped during a pass, by reason.",
		}, []string{"backend", "reason"}),
		itemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_writes_failed_total",
			Help:      "Staged item updates that failed to persist.",
		}, []string{"backend"}),
		alertActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_actions_total",
			Help:      "Low-stock alert state transitions.",
		}, []string{"backend", "action"}),
		triggersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_triggers_dropped_total",
			Help:      "Scheduler triggers dropped because a cycle was already running.",
		}, []string{"trigger"}),
	}

	reg.MustRegister(
		m.passes,
		m.passDuration,
		m.itemsDecremented,
		m.itemsSkipped,
		m.itemsFailed,
		m.alertActions,
		m.triggersDropped,
	)
	return m
}

func (m *Metrics) ObservePass(backend, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(backend, outcome).Inc()
	m.passDuration.WithLabelValues(backend).Observe(took.Seconds())
}

func (m *Metrics) ItemsDecremented(backend string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.itemsDecremented.WithLabelValues(backend).Add(float64(n))
}

func (m *Metrics) ItemSkipped(backend, reason string) {
	if m == nil {
		return
	}
	m.itemsSkipped.WithLabelValues(backend, reason).Inc()
}

func (m *Metrics) ItemWritesFailed(backend string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.itemsFailed.WithLabelValues(backend).Add(float64(n))
}

func (m *Metrics) AlertAction(backend, action string) {
	if m == nil {
		return
	}
	m.alertActions.WithLabelValues(backend, action).Inc()
}

func (m *Metrics) TriggerDropped(trigger string) {
	if m == nil {
		return
	}
	m.triggersDropped.WithLabelValues(trigger).Inc()
}
