package client_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-mcremote/pkg/client"
	"github.com/lightforgemedia/go-mcremote/pkg/ergosockets"
	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
	"github.com/lightforgemedia/go-mcremote/pkg/status"
)

var testLoggerClient = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

// mockServer speaks the envelope protocol over a real WebSocket. handle
// answers each request; returning false leaves the request unanswered.
type mockServer struct {
	t      *testing.T
	server *httptest.Server
	wsURL  string
	handle func(env *ergosockets.Envelope) (status.Status[mcproto.ServerStatus], bool)

	connMu sync.Mutex
	conn   *websocket.Conn
}

func newMockServer(t *testing.T, handle func(env *ergosockets.Envelope) (status.Status[mcproto.ServerStatus], bool)) *mockServer {
	t.Helper()
	ms := &mockServer{t: t, handle: handle}
	ms.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsconn, err := websocket.Accept(w, r, nil)
		if err != nil {
			ms.t.Logf("MockServer: Accept error: %v", err)
			return
		}
		ms.connMu.Lock()
		ms.conn = wsconn
		ms.connMu.Unlock()
		defer wsconn.Close(websocket.StatusNormalClosure, "mock server handler finished")

		ctx := r.Context()
		for {
			_, data, err := wsconn.Read(ctx)
			if err != nil {
				return
			}
			env, err := ergosockets.Decode(data)
			if err != nil {
				ms.t.Logf("MockServer: bad frame: %v", err)
				continue
			}
			st, answer := ms.handle(env)
			if !answer {
				continue
			}
			wire, err := ergosockets.EncodeResponse(env.Name(), env.ID, st)
			if err != nil {
				ms.t.Logf("MockServer: encode: %v", err)
				return
			}
			if err := wsconn.Write(ctx, websocket.MessageText, wire); err != nil {
				return
			}
		}
	}))
	ms.wsURL = "ws" + strings.TrimPrefix(ms.server.URL, "http") + mcproto.DefaultPath
	return ms
}

func (ms *mockServer) Push(name string, payload interface{}) error {
	ms.connMu.Lock()
	conn := ms.conn
	ms.connMu.Unlock()
	wire, err := ergosockets.EncodePush(name, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, wire)
}

func (ms *mockServer) CloseCurrentConnection() {
	ms.connMu.Lock()
	defer ms.connMu.Unlock()
	if ms.conn != nil {
		ms.conn.Close(websocket.StatusGoingAway, "mock server force close current conn")
		ms.conn = nil
	}
}

func (ms *mockServer) Close() {
	ms.CloseCurrentConnection()
	ms.server.Close()
}

func answerAll(state mcproto.ServerState) func(*ergosockets.Envelope) (status.Status[mcproto.ServerStatus], bool) {
	return func(*ergosockets.Envelope) (status.Status[mcproto.ServerStatus], bool) {
		return status.Ok(mcproto.ServerStatus{State: state}), true
	}
}

func TestClientConnectAndRequest(t *testing.T) {
	ms := newMockServer(t, answerAll(mcproto.StateOn))
	defer ms.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cli, err := client.Dial(ctx, ms.wsURL, client.WithLogger(testLoggerClient))
	require.NoError(t, err)
	defer cli.Close()

	st := client.Do(ctx, cli, mcproto.McServerStatus, mcproto.Empty{})
	require.True(t, st.IsOk(), st.Error())
	v, _ := st.Value()
	assert.Equal(t, mcproto.StateOn, v.State)
	assert.Zero(t, cli.Pending())
}

func TestClientRequestTimeout(t *testing.T) {
	ms := newMockServer(t, func(*ergosockets.Envelope) (status.Status[mcproto.ServerStatus], bool) {
		return status.Status[mcproto.ServerStatus]{}, false
	})
	defer ms.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cli, err := client.Dial(ctx, ms.wsURL, client.WithLogger(testLoggerClient))
	require.NoError(t, err)
	defer cli.Close()

	start := time.Now()
	st := client.Do(ctx, cli, mcproto.BootServer, mcproto.Empty{}, client.WithTimeout(100*time.Millisecond))
	assert.Equal(t, status.MsgTimeout, st.Error())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Zero(t, cli.Pending())
}

func TestClientReceivesPush(t *testing.T) {
	ms := newMockServer(t, answerAll(mcproto.StateOff))
	defer ms.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cli, err := client.Dial(ctx, ms.wsURL, client.WithLogger(testLoggerClient))
	require.NoError(t, err)
	defer cli.Close()

	got := make(chan mcproto.ServerState, 1)
	client.Subscribe(cli, mcproto.ServerStateChanged, func(s mcproto.ServerStatus) { got <- s.State })

	require.NoError(t, ms.Push(mcproto.ServerStateChanged.Name, mcproto.ServerStatus{State: mcproto.StateShutdown}))
	select {
	case s := <-got:
		assert.Equal(t, mcproto.StateShutdown, s)
	case <-ctx.Done():
		t.Fatal("push not received")
	}
}

func TestClientReconnectsAfterServerDrop(t *testing.T) {
	ms := newMockServer(t, answerAll(mcproto.StateOn))
	defer ms.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cli, err := client.Dial(ctx, ms.wsURL,
		client.WithLogger(testLoggerClient),
		client.WithReconnectBackoff(50*time.Millisecond, 200*time.Millisecond, 2),
	)
	require.NoError(t, err)
	defer cli.Close()

	ms.CloseCurrentConnection()
	require.Eventually(t, func() bool { return cli.State() != client.StateOpen }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, cli.AwaitOpen(ctx))

	st := client.Do(ctx, cli, mcproto.McServerStatus, mcproto.Empty{})
	assert.True(t, st.IsOk(), st.Error())
}

func TestDialFailsWhenNothingListens(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := client.Dial(ctx, "ws://127.0.0.1:1/horsney",
		client.WithLogger(testLoggerClient),
		client.WithReconnectBackoff(20*time.Millisecond, 50*time.Millisecond, 2),
	)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewWithOptions(t *testing.T) {
	ms := newMockServer(t, answerAll(mcproto.StateBooting))
	defer ms.Close()

	opts := client.DefaultOptions()
	opts.Logger = testLoggerClient
	opts.DefaultTimeout = time.Second
	cli, err := client.NewWithOptions(ms.wsURL, opts)
	require.NoError(t, err)
	defer cli.Close()
	assert.Equal(t, ms.wsURL, cli.URL())

	require.NoError(t, cli.Connect())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, cli.AwaitOpen(ctx))
	st := client.Do(ctx, cli, mcproto.McServerStatus, mcproto.Empty{})
	v, ok := st.Value()
	require.True(t, ok, st.Error())
	assert.Equal(t, mcproto.StateBooting, v.State)
}
