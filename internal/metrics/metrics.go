// Package metrics exposes Prometheus instrumentation for simulation runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "greencart"

// Metrics holds the service collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	RunsStarted         prometheus.Counter
	RunsFinished        *prometheus.CounterVec
	ActiveRuns          prometheus.Gauge
	TelemetrySamples    prometheus.Counter
	Events              *prometheus.CounterVec
	Deliveries          *prometheus.CounterVec
	BroadcastDeliveries *prometheus.CounterVec
	BroadcastDrops      *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	SinkFailures        *prometheus.CounterVec
}

// New registers collectors on reg. Use prometheus.NewRegistry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim", Name: "runs_started_total",
			Help: "Simulation runs started.",
		}),
		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim", Name: "runs_finished_total",
			Help: "Simulation runs finalized, by terminal status.",
		}, []string{"status"}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sim", Name: "active_runs",
			Help: "Runs currently ticking.",
		}),
		TelemetrySamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim", Name: "telemetry_samples_total",
			Help: "Synthetic telemetry samples generated.",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim", Name: "events_total",
			Help: "Operational events raised, by type.",
		}, []string{"type"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sim", Name: "deliveries_total",
			Help: "Deliveries recorded, by punctuality.",
		}, []string{"outcome"}),
		BroadcastDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "delivered_total",
			Help: "Messages accepted by subscribers, by event.",
		}, []string{"event"}),
		BroadcastDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "dropped_total",
			Help: "Messages dropped because a subscriber queue was full, by event.",
		}, []string{"event"}),
		PersistenceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "failures_total",
			Help: "Run record writes that failed, by operation.",
		}, []string{"op"}),
		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "failures_total",
			Help: "Telemetry sink writes that failed, by row kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
	m.ActiveRuns.Inc()
}

func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(status).Inc()
	m.ActiveRuns.Dec()
}

func (m *Metrics) Telemetry(n int) {
	if m == nil {
		return
	}
	m.TelemetrySamples.Add(float64(n))
}

func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Delivery(onTime bool) {
	if m == nil {
		return
	}
	outcome := "late"
	if onTime {
		outcome = "on_time"
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) SinkFailure(kind string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(kind).Inc()
}

// BroadcastDelivered and BroadcastDropped satisfy broadcast.Stats.
func (m *Metrics) BroadcastDelivered(event string, n int) {
	if m == nil {
		return
	}
	m.BroadcastDeliveries.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) BroadcastDropped(event string, n int) {
	if m == nil {
		return
	}
	m.BroadcastDrops.WithLabelValues(event).Add(float64(n))
}
