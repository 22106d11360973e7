package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-mcremote/pkg/ergosockets"
)

// State is the lifecycle state of the channel's connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Transport is a message-oriented bidirectional stream. Read and Write may be
// called concurrently with each other, but each only from one goroutine.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials WebSocket transports using text frames.
type WebSocketDialer struct {
	Options   *websocket.DialOptions
	ReadLimit int64 // <= 0 keeps the library default
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, httpResp, err := websocket.Dial(ctx, url, d.Options)
	if err != nil {
		if httpResp != nil {
			return nil, fmt.Errorf("%w: dial %s failed: %v (status: %s)", ergosockets.ErrConnection, url, err, httpResp.Status)
		}
		return nil, fmt.Errorf("%w: dial %s failed: %v", ergosockets.ErrConnection, url, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}

var errSendBufferFull = errors.New("send buffer full")

// connection is one connect attempt that reached Open. Its pumps only post
// events to the channel's loop; gen lets the loop ignore events from a
// connection it already tore down.
type connection struct {
	gen       uint64
	transport Transport
	outbox    chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
}

func newConnection(parent context.Context, gen uint64, t Transport, sendBuffer int) *connection {
	ctx, cancel := context.WithCancel(parent)
	return &connection{
		gen:       gen,
		transport: t,
		outbox:    make(chan []byte, sendBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// enqueue hands data to the write pump without blocking. Writes leave in the
// order they were enqueued.
func (cn *connection) enqueue(data []byte) error {
	select {
	case cn.outbox <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// shutdown stops the pumps and closes the transport in the background, since
// a close handshake may wait on the peer.
func (cn *connection) shutdown(reason string) {
	cn.cancel()
	go cn.transport.Close(reason)
}

func (c *Channel) readPump(cn *connection) {
	for {
		data, err := cn.transport.Read(cn.ctx)
		if err != nil {
			if cn.ctx.Err() == nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
					c.cfg.logger.Info(fmt.Sprintf("Channel %s: connection closed by peer (status: %d)", c.url, status))
				} else {
					c.cfg.logger.Warn(fmt.Sprintf("Channel %s: read error: %v", c.url, err))
				}
			}
			c.post(func() { c.handleTransportClosed(cn.gen, err) })
			return
		}
		if !c.post(func() { c.handleInbound(cn.gen, data) }) {
			return
		}
	}
}

func (c *Channel) writePump(cn *connection) {
	for {
		select {
		case data := <-cn.outbox:
			writeCtx, cancel := context.WithTimeout(cn.ctx, c.cfg.writeTimeout)
			err := cn.transport.Write(writeCtx, data)
			cancel()
			if err != nil {
				if cn.ctx.Err() == nil {
					c.cfg.logger.Warn(fmt.Sprintf("Channel %s: write error: %v", c.url, err))
				}
				c.post(func() { c.handleTransportClosed(cn.gen, err) })
				return
			}
		case <-cn.ctx.Done():
			return
		}
	}
}
