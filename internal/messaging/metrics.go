package messaging

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Messaging-layer counters referenced in SPEC_FULL's domain
// stack section, grounded on the same rockstar-0000-aistore
// prometheus/client_golang usage as internal/engineio's Metrics.
type Metrics struct {
	PacketsSent     prometheus.Counter
	PacketsReceived prometheus.Counter
	BroadcastsSent  prometheus.Counter
}

// NewMetrics registers the counters on reg, or builds unregistered ones
// (usable but invisible to scraping) when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iorelay",
			Subsystem: "messaging",
			Name:      "packets_sent_total",
			Help:      "Messaging packets written to a Client's Engine Session.",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iorelay",
			Subsystem: "messaging",
			Name:      "packets_received_total",
			Help:      "Messaging packets decoded from a Client's Engine Session.",
		}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iorelay",
			Subsystem: "messaging",
			Name:      "broadcasts_total",
			Help:      "Namespace broadcasts fanned out to one or more rooms.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PacketsSent, m.PacketsReceived, m.BroadcastsSent)
	}
	return m
}
