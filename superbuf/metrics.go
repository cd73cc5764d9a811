package superbuf

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts superbuf traffic. A nil *Metrics records nothing.
type Metrics struct {
	Attached    prometheus.Counter
	Released    prometheus.Counter
	Arrived     prometheus.Counter
	Delivered   prometheus.Counter
	Returned    prometheus.Counter
	Stalls      prometheus.Counter
	BadReleases prometheus.Counter
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "efct",
		Subsystem: "superbuf",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the counters and registers them with reg, if reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attached:    counter("rxqs_attached_total", "Rxqs moved from pending to live."),
		Released:    counter("rxqs_released_total", "Rxqs handed to their free function."),
		Arrived:     counter("arrived_total", "Superbufs handed over by hardware."),
		Delivered:   counter("delivered_total", "Superbufs delivered to rxqs."),
		Returned:    counter("returned_total", "Superbufs returned to hardware."),
		Stalls:      counter("stalls_total", "Polls that left an rxq at its superbuf cap."),
		BadReleases: counter("bad_releases_total", "Releases of superbufs the rxq did not own."),
	}

	if reg != nil {
		reg.MustRegister(m.Attached, m.Released, m.Arrived, m.Delivered, m.Returned, m.Stalls, m.BadReleases)
	}

	return m
}

func (m *Metrics) add(c func(*Metrics) prometheus.Counter, n int) {
	if m == nil || n == 0 {
		return
	}
	c(m).Add(float64(n))
}

func attached(m *Metrics) prometheus.Counter { return m.Attached }
func released(m *Metrics) prometheus.Counter { return m.Released }
func arrived(m *Metrics) prometheus.Counter { return m.Arrived }
func delivered(m *Metrics) prometheus.Counter { return m.Delivered }
func returned(m *Metrics) prometheus.Counter { return m.Returned }
func stalls(m *Metrics) prometheus.Counter { return m.Stalls }
func badReleases(m *Metrics) prometheus.Counter { return m.BadReleases }
