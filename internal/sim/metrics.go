package sim

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workyard-sim/internal/telemetry"
)

// Metrics exports simulation outcomes to Prometheus. It is both an event
// and a state writer and owns its own registry.
type Metrics struct {
	registry    *prometheus.Registry
	events      *prometheus.CounterVec
	faults      *prometheus.CounterVec
	opMs        *prometheus.HistogramVec
	heat        *prometheus.GaugeVec
	throttle    *prometheus.GaugeVec
	utilization *prometheus.GaugeVec
	corruption  *prometheus.GaugeVec
	global      prometheus.Gauge
	queueDepth  prometheus.Gauge
	tick        prometheus.Gauge
	uptime      prometheus.Gauge
	dropped     prometheus.Gauge
}

// NewMetrics registers the workyard collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workyard", Name: "events_total", Help: "Simulation events by kind.",
		}, []string{"kind"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workyard", Name: "faults_total", Help: "Op faults by cause and op.",
		}, []string{"fault_kind", "op"}),
		opMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workyard", Name: "progress_ms", Help: "Throttled work done per worker tick.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"op"}),
		heat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workyard", Name: "yard_heat", Help: "Heat accumulator per yard.",
		}, []string{"yard"}),
		throttle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workyard", Name: "yard_throttle", Help: "Work-rate multiplier per yard.",
		}, []string{"yard"}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workyard", Name: "yard_utilization", Help: "Fraction of workers running per yard.",
		}, []string{"yard"}),
		corruption: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workyard", Name: "yard_mean_corruption", Help: "Mean worker corruption per yard.",
		}, []string{"yard"}),
		global: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workyard", Name: "global_corruption", Help: "Colony-wide corruption field.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workyard", Name: "queue_depth", Help: "Jobs held by the queue in any state.",
		}),
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workyard", Name: "tick", Help: "Last completed tick.",
		}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workyard", Name: "uptime_ratio", Help: "Fraction of worker-ticks not faulted.",
		}),
		dropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workyard", Name: "bus_dropped_events", Help: "Events dropped because writers fell behind.",
		}),
	}
	m.registry.MustRegister(m.events, m.faults, m.opMs, m.heat, m.throttle, m.utilization,
		m.corruption, m.global, m.queueDepth, m.tick, m.uptime, m.dropped)
	return m
}

// WriteEvent implements EventWriter.
func (m *Metrics) WriteEvent(ev telemetry.Event) error {
	m.events.WithLabelValues(string(ev.Kind)).Inc()
	switch ev.Kind {
	case telemetry.EventFault:
		m.faults.WithLabelValues(ev.FaultKind, ev.Op).Inc()
	case telemetry.EventProgress:
		m.opMs.WithLabelValues(ev.Op).Observe(ev.Ms)
	}
	return nil
}

// WriteState implements StateWriter.
func (m *Metrics) WriteState(row telemetry.YardStateRow) error {
	m.heat.WithLabelValues(row.Name).Set(row.Heat)
	m.throttle.WithLabelValues(row.Name).Set(row.Throttle)
	m.utilization.WithLabelValues(row.Name).Set(row.Utilization)
	m.corruption.WithLabelValues(row.Name).Set(row.MeanCorruption)
	m.global.Set(row.GlobalCorruption)
	m.queueDepth.Set(float64(row.QueueDepth))
	m.tick.Set(float64(row.Tick))
	return nil
}

// ObserveStatus records colony-level gauges not carried on state rows.
func (m *Metrics) ObserveStatus(st Status, dropped uint64) {
	m.uptime.Set(st.Uptime)
	m.dropped.Set(float64(dropped))
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
