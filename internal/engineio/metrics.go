package engineio

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Engine-layer gauges/counters wired into Prometheus,
// grounded on the pervasive prometheus/client_golang instrumentation in
// rockstar-0000-aistore.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	Upgrades       prometheus.Counter
}

// NewMetrics registers the gauges/counters on reg, or builds unregistered
// ones (usable but invisible to scraping) when reg is nil, which is handy
// for tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "iorelay",
			Subsystem: "engineio",
			Name:      "active_sessions",
			Help:      "Number of Engine sessions currently OPEN or NEW.",
		}),
		Upgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iorelay",
			Subsystem: "engineio",
			Name:      "upgrades_total",
			Help:      "Number of websocket upgrade probes initiated.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ActiveSessions, m.Upgrades)
	}
	return m
}
