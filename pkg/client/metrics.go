package client

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lightforgemedia/go-mcremote/pkg/status"
)

// Call outcomes recorded in mcremote_channel_calls_total.
const (
	outcomeOK          = "ok"
	outcomeTimeout     = "timeout"
	outcomeConnection  = "connection"
	outcomeProtocol    = "protocol"
	outcomeApplication = "application"
)

// channelMetrics is nil-safe: a channel built without WithMetrics records nothing.
type channelMetrics struct {
	calls      *prometheus.CounterVec
	pending    prometheus.Gauge
	reconnects prometheus.Counter
	state      prometheus.Gauge
	dropped    *prometheus.CounterVec
}

func newChannelMetrics(reg prometheus.Registerer) *channelMetrics {
	if reg == nil {
		return nil
	}
	m := &channelMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcremote_channel_calls_total",
			Help: "Calls issued on the control channel by logical name and outcome.",
		}, []string{"call", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcremote_channel_pending_requests",
			Help: "Calls waiting for a response.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcremote_channel_reconnects_total",
			Help: "Reconnect attempts started after a connection loss or failed dial.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcremote_channel_state",
			Help: "Connection state (0 idle, 1 connecting, 2 open, 3 closing, 4 closed).",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcremote_channel_dropped_messages_total",
			Help: "Inbound messages dropped by reason.",
		}, []string{"reason"}),
	}
	m.calls = registerOrReuse(reg, m.calls)
	m.pending = registerOrReuse(reg, m.pending)
	m.reconnects = registerOrReuse(reg, m.reconnects)
	m.state = registerOrReuse(reg, m.state)
	m.dropped = registerOrReuse(reg, m.dropped)
	return m
}

// registerOrReuse registers c, returning the already registered collector when
// another channel registered an identical one first.
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

func (m *channelMetrics) observeCall(name string, st status.Status[json.RawMessage]) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(name, outcomeOf(st.IsOk(), st.Error())).Inc()
}

func (m *channelMetrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *channelMetrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *channelMetrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *channelMetrics) drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func outcomeOf(ok bool, msg string) string {
	switch {
	case ok:
		return outcomeOK
	case msg == status.MsgTimeout:
		return outcomeTimeout
	case msg == status.MsgConnectionClosed, msg == status.MsgNotOpen, msg == status.MsgChannelClosed, strings.HasPrefix(msg, "connection error"):
		return outcomeConnection
	case strings.HasPrefix(msg, "protocol error"):
		return outcomeProtocol
	default:
		return outcomeApplication
	}
}
