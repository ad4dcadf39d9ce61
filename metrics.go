package styx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts shared-value activity. A nil *Metrics records nothing, so
// backends can call it unconditionally.
type Metrics struct {
	TestSets       *prometheus.CounterVec
	Writes         *prometheus.CounterVec
	MonitorWakes   *prometheus.CounterVec
	AllocatedBytes prometheus.Counter
}

// NewMetrics registers the styx metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TestSets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "styx_testset_total",
			Help: "Conditional writes by backend and outcome",
		}, []string{"backend", "outcome"}),
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "styx_set_total",
			Help: "Unconditional writes by backend",
		}, []string{"backend"}),
		MonitorWakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "styx_monitor_wakes_total",
			Help: "Monitor calls that observed a new version",
		}, []string{"backend"}),
		AllocatedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "styx_allocated_bytes_total",
			Help: "Bytes bump-allocated in mapped regions",
		}),
	}
}

func (m *Metrics) ObserveTestSet(backend string, ok bool) {
	if m == nil {
		return
	}
	outcome := "conflict"
	if ok {
		outcome = "ok"
	}
	m.TestSets.WithLabelValues(backend, outcome).Inc()
}

func (m *Metrics) ObserveSet(backend string) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(backend).Inc()
}

func (m *Metrics) ObserveMonitorWake(backend string) {
	if m == nil {
		return
	}
	m.MonitorWakes.WithLabelValues(backend).Inc()
}

func (m *Metrics) ObserveAlloc(n int) {
	if m == nil {
		return
	}
	m.AllocatedBytes.Add(float64(n))
}
