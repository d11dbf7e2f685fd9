package interp

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the interpreter's operational Prometheus counters and
// gauge. A nil *Metrics (the Config default) disables all
// instrumentation; Interpreter checks for nil before every call so
// embedding nostrscript without Prometheus costs nothing.
type Metrics struct {
	instructions prometheus.Counter
	traps        prometheus.Counter
	suspends     prometheus.Counter
	memoryPages  prometheus.Gauge
}

// NewMetrics registers the nostrscript interpreter's counters/gauge with
// reg and returns a Metrics ready to pass to WithMetrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		instructions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nostrscript_instructions_total",
			Help: "Total number of WebAssembly instructions executed.",
		}),
		traps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nostrscript_traps_total",
			Help: "Total number of traps raised during execution.",
		}),
		suspends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nostrscript_suspends_total",
			Help: "Total number of times a builtin suspended execution.",
		}),
		memoryPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nostrscript_memory_pages",
			Help: "Current linear memory size, in 64KiB pages.",
		}),
	}
	reg.MustRegister(m.instructions, m.traps, m.suspends, m.memoryPages)
	return m
}

func (m *Metrics) observeInstruction() { m.instructions.Inc() }
func (m *Metrics) observeTrap()        { m.traps.Inc() }
func (m *Metrics) observeSuspend()     { m.suspends.Inc() }
func (m *Metrics) setMemoryPages(n uint32) { m.memoryPages.Set(float64(n)) }
