package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
	"github.com/lightforgemedia/go-mcremote/pkg/status"
)

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, outcomeOK, outcomeOf(true, ""))
	assert.Equal(t, outcomeTimeout, outcomeOf(false, status.MsgTimeout))
	assert.Equal(t, outcomeConnection, outcomeOf(false, status.MsgConnectionClosed))
	assert.Equal(t, outcomeConnection, outcomeOf(false, "connection error: send buffer full"))
	assert.Equal(t, outcomeProtocol, outcomeOf(false, "protocol error: bad"))
	assert.Equal(t, outcomeApplication, outcomeOf(false, "Server is already running"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *channelMetrics
	m.setPending(3)
	m.reconnect()
	m.setState(StateOpen)
	m.drop("x")
	m.observeCall("x", status.Err[json.RawMessage]("timeout"))
}

func TestChannelRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, WithMetrics(reg))
	srv := h.open(t)

	assert.Equal(t, float64(StateOpen), testutil.ToFloat64(h.ch.metrics.state))

	result := goCall(h.ch, mcproto.McServerStatus)
	req := srv.nextRequest(t)
	srv.respond(t, req, status.Ok(mcproto.ServerStatus{State: mcproto.StateOn}))
	await(t, result)

	timedOut := goCall(h.ch, mcproto.BootServer, WithTimeout(time.Second))
	srv.nextRequest(t)
	require.Eventually(t, func() bool { return h.ch.Pending() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.ch.metrics.pending))
	h.clock.Advance(time.Second)
	await(t, timedOut)
	settle(t, h.ch)

	srv.toClient <- []byte("garbage")
	settle(t, h.ch)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.ch.metrics.dropped.WithLabelValues("malformed")) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.ch.metrics.calls.WithLabelValues("mc_server_status", outcomeOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.ch.metrics.calls.WithLabelValues("boot_server", outcomeTimeout)))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.ch.metrics.pending))

	// A second channel on the same registry reuses the collectors.
	other, err := New(testURL, WithDialer(newMemDialer()), WithMetrics(reg))
	require.NoError(t, err)
	defer other.Close()
	assert.Same(t, h.ch.metrics.calls, other.metrics.calls)
}
