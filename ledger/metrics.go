package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chanledger"

// Metrics counts operations and rejections. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	rejections *prometheus.CounterVec
	created    prometheus.Counter
	consumed   prometheus.Counter
}

// NewMetrics creates the ledger collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Committed ledger operations by name.",
		}, []string{"op"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "rejections_total",
			Help:      "Rejected ledger operations by name and kind.",
		}, []string{"op", "kind"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "outputs_created_total",
			Help:      "Outputs created.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "outputs_consumed_total",
			Help:      "Outputs consumed by spends and withdrawals.",
		}),
	}

	collectors := []prometheus.Collector{
		m.operations, m.rejections, m.created, m.consumed,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) committed(op string, created, consumed int) {
	if m == nil {
		return
	}

	m.operations.WithLabelValues(op).Inc()
	m.created.Add(float64(created))
	m.consumed.Add(float64(consumed))
}

func (m *Metrics) rejected(op string, kind Kind) {
	if m == nil {
		return
	}

	m.rejections.WithLabelValues(op, kind.String()).Inc()
}
