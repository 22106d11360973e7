package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-mcremote/pkg/broker"
	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
	"github.com/lightforgemedia/go-mcremote/pkg/testutil"
)

// syncBuffer is written by the command goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newEndpoint(t *testing.T) *testutil.BrokerServer {
	t.Helper()
	bs := testutil.NewBrokerServer(t)
	require.NoError(t, broker.Handle(bs.Broker, mcproto.McServerStatus, func(ctx context.Context, _ mcproto.Empty) (mcproto.ServerStatus, error) {
		return mcproto.ServerStatus{State: mcproto.StateOff}, nil
	}))
	require.NoError(t, broker.Handle(bs.Broker, mcproto.BootServer, func(ctx context.Context, _ mcproto.Empty) (mcproto.ServerStatus, error) {
		return mcproto.ServerStatus{State: mcproto.StateBooting}, nil
	}))
	require.NoError(t, broker.Handle(bs.Broker, mcproto.ShutdownServer, func(ctx context.Context, _ mcproto.Empty) (mcproto.ServerStatus, error) {
		return mcproto.ServerStatus{}, errors.New("can't turn server off in OFF state")
	}))
	return bs
}

func run(t *testing.T, ctx context.Context, out *syncBuffer, args ...string) error {
	t.Helper()
	root := NewRootCmd(out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func TestStatusCommand(t *testing.T) {
	bs := newEndpoint(t)
	out := &syncBuffer{}
	require.NoError(t, run(t, context.Background(), out, "--url", bs.WSURL, "status"))
	assert.Equal(t, "OFF\n", out.String())
}

func TestBootCommandJSON(t *testing.T) {
	bs := newEndpoint(t)
	out := &syncBuffer{}
	require.NoError(t, run(t, context.Background(), out, "--url", bs.WSURL, "--json", "boot"))
	assert.JSONEq(t, `{"state":"BOOTING"}`, strings.TrimSpace(out.String()))
}

func TestShutdownCommandReportsRemoteError(t *testing.T) {
	bs := newEndpoint(t)
	out := &syncBuffer{}
	err := run(t, context.Background(), out, "--url", bs.WSURL, "shutdown")
	require.Error(t, err)
	assert.Equal(t, "shutdown_server: can't turn server off in OFF state", err.Error())
	assert.Empty(t, out.String())
}

func TestUnreachableEndpoint(t *testing.T) {
	out := &syncBuffer{}
	err := run(t, context.Background(), out, "--url", "ws://127.0.0.1:1/horsney", "--timeout", "300ms", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to ws://127.0.0.1:1/horsney")
}

func TestBadURLScheme(t *testing.T) {
	out := &syncBuffer{}
	err := run(t, context.Background(), out, "--url", "http://localhost:2345/horsney", "status")
	assert.Error(t, err)
}

func TestWatchPrintsPushes(t *testing.T) {
	bs := newEndpoint(t)
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(t, ctx, out, "--url", bs.WSURL, "watch") }()

	require.Eventually(t, func() bool { return out.String() == "OFF\n" }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bs.Push(mcproto.ServerStateChanged.Name, mcproto.ServerStatus{State: mcproto.StateBooting}))
	require.NoError(t, bs.Push(mcproto.ServerStateChanged.Name, mcproto.ServerStatus{State: mcproto.StateOn}))
	require.Eventually(t, func() bool { return out.String() == "OFF\nBOOTING\nON\n" }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
