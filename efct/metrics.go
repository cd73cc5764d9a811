package efct

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts datapath activity. A nil *Metrics records nothing.
type Metrics struct {
	TxPackets     prometheus.Counter
	TxBytes       prometheus.Counter
	TxAgain       prometheus.Counter
	TxCompletions prometheus.Counter
	TxReclaimed   prometheus.Counter
	Events        *prometheus.CounterVec
}

// NewMetrics creates the datapath counters and registers them with reg,
// if reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TxPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "efct",
			Subsystem: "tx",
			Name:      "packets_total",
			Help:      "Packets written to the CTPIO aperture.",
		}),
		TxBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "efct",
			Subsystem: "tx",
			Name:      "bytes_total",
			Help:      "Payload bytes written to the CTPIO aperture.",
		}),
		TxAgain: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "efct",
			Subsystem: "tx",
			Name:      "again_total",
			Help:      "Sends rejected for lack of aperture space.",
		}),
		TxCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "efct",
			Subsystem: "tx",
			Name:      "completions_total",
			Help:      "Descriptors reclaimed by completion events.",
		}),
		TxReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "efct",
			Subsystem: "tx",
			Name:      "reclaimed_bytes_total",
			Help:      "Aperture bytes reclaimed by completion events.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "efct",
			Subsystem: "evq",
			Name:      "events_total",
			Help:      "Events consumed from the event queue, by type.",
		}, []string{"type"}),
	}

	if reg != nil {
		reg.MustRegister(m.TxPackets, m.TxBytes, m.TxAgain, m.TxCompletions, m.TxReclaimed, m.Events)
	}

	return m
}

func (m *Metrics) sent(payload int) {
	if m == nil {
		return
	}
	m.TxPackets.Inc()
	m.TxBytes.Add(float64(payload))
}

func (m *Metrics) again() {
	if m == nil {
		return
	}
	m.TxAgain.Inc()
}

func (m *Metrics) completed(n, bytes uint32) {
	if m == nil {
		return
	}
	m.TxCompletions.Add(float64(n))
	m.TxReclaimed.Add(float64(bytes))
}

func (m *Metrics) event(t EventType) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(t.String()).Inc()
}
