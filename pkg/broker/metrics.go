package broker

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// brokerMetrics is nil-safe: a broker built without WithMetrics records nothing.
type brokerMetrics struct {
	sessions prometheus.Gauge
	requests *prometheus.CounterVec
	pushes   *prometheus.CounterVec
	dropped  *prometheus.CounterVec
}

func newBrokerMetrics(reg prometheus.Registerer) *brokerMetrics {
	if reg == nil {
		return nil
	}
	m := &brokerMetrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcremote_broker_sessions",
			Help: "Connected control channel sessions.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcremote_broker_requests_total",
			Help: "Requests handled by call name and outcome.",
		}, []string{"call", "outcome"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcremote_broker_pushes_total",
			Help: "Push messages published to sessions.",
		}, []string{"name"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcremote_broker_dropped_messages_total",
			Help: "Messages dropped by reason.",
		}, []string{"reason"}),
	}
	m.sessions = registerOrReuse(reg, m.sessions)
	m.requests = registerOrReuse(reg, m.requests)
	m.pushes = registerOrReuse(reg, m.pushes)
	m.dropped = registerOrReuse(reg, m.dropped)
	return m
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *brokerMetrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *brokerMetrics) request(name, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(name, outcome).Inc()
}

func (m *brokerMetrics) push(name string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(name).Inc()
}

func (m *brokerMetrics) drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}
