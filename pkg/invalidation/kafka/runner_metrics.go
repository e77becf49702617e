package kafka

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Decode results for model_events_received_total.
const (
	resultOK        = "ok"
	resultUndecoded = "undecoded"
	resultInvalid   = "invalid"
)

// Apply actions for model_events_applied_total.
const (
	actionEvict     = "evict"
	actionNotCached = "not_cached"
	actionDuplicate = "duplicate"
	actionIgnore    = "ignore"
)

// eventMetrics is the consumer's view of model store events. Everything is
// labelled by the event op so stored and deleted traffic can be told apart.
type eventMetrics struct {
	received *prometheus.CounterVec
	applied  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	lag      *prometheus.GaugeVec
	last     *prometheus.GaugeVec
}

func newEventMetrics(r prometheus.Registerer) *eventMetrics {
	m := &eventMetrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "model_events_received_total",
			Help: "Model store events read from Kafka by decode result.",
		}, []string{"result"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "model_events_applied_total",
			Help: "Local cache actions taken per model store event.",
		}, []string{"op", "action"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "model_events_apply_seconds",
			Help:    "Time from reading an event to finishing its cache action.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		lag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "model_events_lag_seconds",
			Help: "Age of the newest event read, per partition.",
		}, []string{"partition"}),
		last: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "model_events_last_applied_timestamp_seconds",
			Help: "Unix time of the last applied event, per op.",
		}, []string{"op"}),
	}
	if r != nil {
		r.MustRegister(m.received, m.applied, m.latency, m.lag, m.last)
	}
	return m
}

func (m *eventMetrics) observeLag(partition int32, produced time.Time) {
	if produced.IsZero() {
		return
	}
	m.lag.WithLabelValues(strconv.Itoa(int(partition))).Set(time.Since(produced).Seconds())
}

func (m *eventMetrics) receive(result string) {
	m.received.WithLabelValues(result).Inc()
}

func (m *eventMetrics) apply(op, action string, start time.Time) {
	m.applied.WithLabelValues(op, action).Inc()
	if action == actionDuplicate {
		return
	}
	now := time.Now()
	m.latency.WithLabelValues(op).Observe(now.Sub(start).Seconds())
	m.last.WithLabelValues(op).Set(float64(now.Unix()))
}
