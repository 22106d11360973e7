package mcremote_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcremote "github.com/lightforgemedia/go-mcremote"
	"github.com/lightforgemedia/go-mcremote/pkg/broker"
	"github.com/lightforgemedia/go-mcremote/pkg/client"
	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
	"github.com/lightforgemedia/go-mcremote/pkg/testutil"
)

func TestFacadeRoundTrip(t *testing.T) {
	bs := testutil.NewBrokerServer(t)
	state := mcremote.StateOff
	require.NoError(t, broker.Handle(bs.Broker, mcproto.McServerStatus, func(ctx context.Context, _ mcproto.Empty) (mcproto.ServerStatus, error) {
		return mcproto.ServerStatus{State: state}, nil
	}))
	require.NoError(t, broker.Handle(bs.Broker, mcproto.BootServer, func(ctx context.Context, _ mcproto.Empty) (mcproto.ServerStatus, error) {
		return mcproto.ServerStatus{State: mcremote.StateBooting}, bs.Push(mcproto.ServerStateChanged.Name, mcproto.ServerStatus{State: mcremote.StateBooting})
	}))
	require.NoError(t, broker.Handle(bs.Broker, mcproto.ShutdownServer, func(ctx context.Context, _ mcproto.Empty) (mcproto.ServerStatus, error) {
		return mcproto.ServerStatus{}, &testError{"can't turn server off in OFF state"}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := mcremote.Dial(ctx, bs.WSURL, client.WithLogger(testutil.DefaultLogger))
	require.NoError(t, err)
	defer ch.Close()

	changes := make(chan mcremote.ServerState, 1)
	mcremote.OnStateChange(ch, func(s mcremote.ServerState) { changes <- s })

	v, err := mcremote.Status(ctx, ch).Result()
	require.NoError(t, err)
	assert.Equal(t, mcremote.StateOff, v.State)

	v, err = mcremote.Boot(ctx, ch).Result()
	require.NoError(t, err)
	assert.Equal(t, mcremote.StateBooting, v.State)
	select {
	case s := <-changes:
		assert.Equal(t, mcremote.StateBooting, s)
	case <-time.After(2 * time.Second):
		t.Fatal("no state push")
	}

	assert.Equal(t, "can't turn server off in OFF state", mcremote.Shutdown(ctx, ch).Error())
}

func TestNewBroker(t *testing.T) {
	b, err := mcremote.NewBroker(broker.WithLogger(testutil.DefaultLogger))
	require.NoError(t, err)
	require.NoError(t, b.Shutdown(context.Background()))
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
