package kvgate

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by limiters and session
// caches. A nil *Metrics records nothing.
type Metrics struct {
	admits      *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	sessionOps  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// skips registration.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		admits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvgate",
			Name:      "admit_total",
			Help:      "Admit calls by decision.",
		}, []string{"decision"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvgate",
			Name:      "store_errors_total",
			Help:      "Failed store calls by operation.",
		}, []string{"op"}),
		sessionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvgate",
			Name:      "session_ops_total",
			Help:      "Session cache operations by outcome.",
		}, []string{"op", "result"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.admits, m.storeErrors, m.sessionOps} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeAdmit(d Decision) {
	if m == nil {
		return
	}
	m.admits.WithLabelValues(d.String()).Inc()
}

func (m *Metrics) observeStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) observeSession(op, result string) {
	if m == nil {
		return
	}
	m.sessionOps.WithLabelValues(op, result).Inc()
}
