// Package client implements the async channel: a single persistent WebSocket
// turned into a typed request/response channel with correlation ids, per-call
// timeouts, reconnection and push subscriptions.
//
// All channel state (connection state, pending requests, subscriptions and
// AwaitOpen waiters) is owned by one event-loop goroutine. Transport pumps,
// timers and API calls post closures to that loop and never touch the state
// directly, so no two contexts ever mutate it concurrently.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightforgemedia/go-mcremote/pkg/ergosockets"
	"github.com/lightforgemedia/go-mcremote/pkg/pending"
	"github.com/lightforgemedia/go-mcremote/pkg/status"
)

// ErrChannelClosed is returned by operations on a channel after Close.
var ErrChannelClosed = errors.New("client: channel closed")

const eventQueueSize = 64

// Channel is the only surface collaborators use to talk to the remote server.
// Construct one per process and pass it to whoever needs it.
type Channel struct {
	cfg     channelConfig
	url     string
	metrics *channelMetrics

	events chan func()
	quit   chan struct{} // closed when the loop exits

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	pushQueue chan pushDelivery

	// Mirrors of loop state for lock-free reads.
	stateMirror   atomic.Int32
	pendingMirror atomic.Int64

	// Loop-owned.
	state          State
	gen            uint64
	conn           *connection
	registry       *pending.Registry
	waiters        map[uint64]chan error
	waiterSeq      uint64
	subs           map[string]map[uint64]*Subscription
	subSeq         uint64
	attempts       int
	reconnectTimer pending.Timer
	rng            *rand.Rand
	closed         bool
	exitLoop       bool
}

// New creates a Channel for the given ws:// or wss:// address. It does not
// dial; call Connect (or use Dial).
func New(rawURL string, opts ...Option) (*Channel, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("client: url %q must use the ws or wss scheme", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("client: url %q has no host", rawURL)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.dialer == nil {
		cfg.dialer = WebSocketDialer{Options: cfg.dialOptions, ReadLimit: cfg.readLimit}
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:        cfg,
		url:        rawURL,
		metrics:    newChannelMetrics(cfg.registerer),
		events:     make(chan func(), eventQueueSize),
		quit:       make(chan struct{}),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		pushQueue:  make(chan pushDelivery, cfg.pushBuffer),
		state:      StateIdle,
		waiters:    make(map[uint64]chan error),
		subs:       make(map[string]map[uint64]*Subscription),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.registry = pending.New(cfg.clock, func(f func()) {
		c.post(func() {
			f()
			c.syncPending()
		})
	})
	c.metrics.setState(StateIdle)

	go c.run()
	go c.dispatchPushes()
	return c, nil
}

// Dial creates a Channel, connects it and waits until it is open or ctx ends.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Channel, error) {
	c, err := New(rawURL, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}
	if err := c.AwaitOpen(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("client: connecting to %s: %w", rawURL, err)
	}
	return c, nil
}

// URL returns the address the channel connects to.
func (c *Channel) URL() string { return c.url }

// State returns the current connection state.
func (c *Channel) State() State { return State(c.stateMirror.Load()) }

// Pending returns the number of calls waiting for a response.
func (c *Channel) Pending() int { return int(c.pendingMirror.Load()) }

func (c *Channel) run() {
	defer close(c.quit)
	for f := range c.events {
		f()
		if c.exitLoop {
			return
		}
	}
}

// post schedules f on the loop. It reports false once the loop has exited.
func (c *Channel) post(f func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.events <- f:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Channel) setState(s State) {
	if c.state == s {
		return
	}
	c.cfg.logger.Debug(fmt.Sprintf("Channel %s: %s -> %s", c.url, c.state, s))
	c.state = s
	c.stateMirror.Store(int32(s))
	c.metrics.setState(s)
}

func (c *Channel) syncPending() {
	n := c.registry.Len()
	c.pendingMirror.Store(int64(n))
	c.metrics.setPending(n)
}

// --- Connection management ---

// Connect starts a connect attempt. It is a no-op while a connection is
// Connecting or Open.
func (c *Channel) Connect() error {
	if !c.post(c.startConnect) {
		return ErrChannelClosed
	}
	return nil
}

func (c *Channel) startConnect() {
	if c.closed || c.state == StateConnecting || c.state == StateOpen || c.state == StateClosing {
		return
	}
	c.stopReconnectTimer()
	c.gen++
	gen := c.gen
	c.setState(StateConnecting)
	c.cfg.logger.Info(fmt.Sprintf("Channel %s: connecting (attempt %d)", c.url, c.attempts+1))

	dialCtx, cancel := context.WithTimeout(c.lifeCtx, c.cfg.dialTimeout)
	go func() {
		t, err := c.cfg.dialer.Dial(dialCtx, c.url)
		cancel()
		if !c.post(func() { c.handleDialResult(gen, t, err) }) && t != nil {
			t.Close("channel closed")
		}
	}()
}

func (c *Channel) handleDialResult(gen uint64, t Transport, err error) {
	if gen != c.gen || c.closed || c.state != StateConnecting {
		if t != nil {
			go t.Close("stale connection")
		}
		return
	}
	if err != nil {
		c.cfg.logger.Info(fmt.Sprintf("Channel %s: connect failed: %v", c.url, err))
		c.setState(StateClosed)
		c.scheduleReconnect()
		return
	}

	cn := newConnection(c.lifeCtx, gen, t, c.cfg.sendBuffer)
	c.conn = cn
	c.attempts = 0
	c.setState(StateOpen)
	go c.readPump(cn)
	go c.writePump(cn)
	c.cfg.logger.Info(fmt.Sprintf("Channel %s: connected", c.url))

	for id, w := range c.waiters {
		w <- nil
		delete(c.waiters, id)
	}
}

// handleTransportClosed runs when the transport of connection gen fails or is
// closed by the peer. Every pending call is flushed within this loop turn,
// before any reconnect can begin accepting new calls.
func (c *Channel) handleTransportClosed(gen uint64, cause error) {
	if c.conn == nil || c.conn.gen != gen {
		return
	}
	c.conn.shutdown("connection lost")
	c.conn = nil
	c.setState(StateClosed)

	n := c.registry.FlushAll(status.Err[json.RawMessage](status.MsgConnectionClosed))
	c.syncPending()
	c.cfg.logger.Info(fmt.Sprintf("Channel %s: connection lost (%v), flushed %d pending calls", c.url, cause, n))

	c.scheduleReconnect()
}

func (c *Channel) scheduleReconnect() {
	if c.closed || !c.cfg.autoReconnect || c.reconnectTimer != nil {
		return
	}
	c.attempts++
	delay := c.cfg.backoff.Delay(c.attempts, c.rng)
	c.cfg.logger.Info(fmt.Sprintf("Channel %s: reconnecting in %v (attempt %d)", c.url, delay, c.attempts))
	c.reconnectTimer = c.cfg.clock.AfterFunc(delay, func() {
		c.post(c.reconnect)
	})
}

func (c *Channel) reconnect() {
	if c.reconnectTimer == nil {
		return // stopped after this firing was queued
	}
	c.reconnectTimer = nil
	c.metrics.reconnect()
	c.startConnect()
}

func (c *Channel) stopReconnectTimer() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// AwaitOpen returns nil as soon as the channel is Open. When it is not, it
// waits for the next successful open; failed attempts do not release it. It
// returns ctx.Err() when ctx ends first and ErrChannelClosed after Close.
func (c *Channel) AwaitOpen(ctx context.Context) error {
	ch := make(chan error, 1)
	var waiterID uint64
	ok := c.post(func() {
		switch {
		case c.closed:
			ch <- ErrChannelClosed
		case c.state == StateOpen:
			ch <- nil
		default:
			c.waiterSeq++
			waiterID = c.waiterSeq
			c.waiters[waiterID] = ch
		}
	})
	if !ok {
		return ErrChannelClosed
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		c.post(func() { delete(c.waiters, waiterID) })
		return ctx.Err()
	case <-c.quit:
		select {
		case err := <-ch:
			return err
		default:
			return ErrChannelClosed
		}
	}
}

// Close shuts the channel down: the connection is closed, pending calls
// resolve with "connection closed", reconnects stop and AwaitOpen callers
// receive ErrChannelClosed. The channel cannot be reused.
func (c *Channel) Close() error {
	errCh := make(chan error, 1)
	if !c.post(func() { errCh <- c.shutdown() }) {
		return ErrChannelClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-c.quit:
		select {
		case err := <-errCh:
			return err
		default:
			return ErrChannelClosed
		}
	}
}

func (c *Channel) shutdown() error {
	if c.closed {
		return ErrChannelClosed
	}
	c.closed = true
	c.stopReconnectTimer()
	if c.conn != nil {
		c.setState(StateClosing)
		c.conn.shutdown("client closed")
		c.conn = nil
	}
	c.setState(StateClosed)

	n := c.registry.FlushAll(status.Err[json.RawMessage](status.MsgConnectionClosed))
	c.syncPending()
	for id, w := range c.waiters {
		w <- ErrChannelClosed
		delete(c.waiters, id)
	}
	c.lifeCancel()
	c.exitLoop = true
	c.cfg.logger.Info(fmt.Sprintf("Channel %s: closed, flushed %d pending calls", c.url, n))
	return nil
}

// --- Calls ---

type callOptions struct {
	timeout time.Duration
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

// WithTimeout overrides the channel's default timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Call sends the request `name` with payload and waits for its response. The
// channel does not queue: when it is not Open the call fails immediately with
// "connection not open"; use AwaitOpen first to wait for a connection.
//
// Every failure is reported in the returned Status. A ctx deadline shorter than
// the call timeout shortens it. Cancelling ctx only stops this caller from
// waiting; the request itself still resolves by response, timeout or flush.
func (c *Channel) Call(ctx context.Context, name string, payload interface{}, opts ...CallOption) status.Status[json.RawMessage] {
	co := callOptions{timeout: c.cfg.defaultTimeout}
	for _, opt := range opts {
		opt(&co)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < co.timeout {
			co.timeout = remaining
		}
	}
	if co.timeout <= 0 {
		return status.Err[json.RawMessage](status.MsgTimeout)
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		st := status.Errf[json.RawMessage]("protocol error: %v", err)
		c.metrics.observeCall(name, st)
		return st
	}

	result := make(chan status.Status[json.RawMessage], 1)
	if !c.post(func() { c.startCall(name, raw, co.timeout, result) }) {
		return status.Err[json.RawMessage](status.MsgChannelClosed)
	}
	select {
	case st := <-result:
		return st
	case <-ctx.Done():
		return status.Err[json.RawMessage](ctx.Err().Error())
	case <-c.quit:
		select {
		case st := <-result:
			return st
		default:
			return status.Err[json.RawMessage](status.MsgChannelClosed)
		}
	}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}

// startCall runs encode, register and send in one loop turn, so a response
// can never be processed before its request is registered.
func (c *Channel) startCall(name string, payload json.RawMessage, timeout time.Duration, result chan<- status.Status[json.RawMessage]) {
	fail := func(st status.Status[json.RawMessage]) {
		c.metrics.observeCall(name, st)
		result <- st
	}
	if c.closed {
		fail(status.Err[json.RawMessage](status.MsgChannelClosed))
		return
	}
	if c.state != StateOpen || c.conn == nil {
		fail(status.Err[json.RawMessage](status.MsgNotOpen))
		return
	}

	id := c.registry.NextID()
	wire, err := ergosockets.EncodeRequest(name, id, payload)
	if err != nil {
		fail(status.Errf[json.RawMessage]("protocol error: %v", err))
		return
	}
	resolve := func(st status.Status[json.RawMessage]) {
		c.metrics.observeCall(name, st)
		result <- st
	}
	if err := c.registry.Register(id, name, timeout, resolve); err != nil {
		fail(status.Errf[json.RawMessage]("protocol error: %v", err))
		return
	}
	if err := c.conn.enqueue(wire); err != nil {
		c.registry.Cancel(id)
		fail(status.Errf[json.RawMessage]("connection error: %v", err))
		return
	}
	c.syncPending()
	c.cfg.logger.Debug(fmt.Sprintf("Channel %s: sent %s (ID: %d)", c.url, ergosockets.RequestTag(name), id))
}

// Do issues a typed call and decodes its result.
func Do[Req, Res any](ctx context.Context, c *Channel, call ergosockets.Call[Req, Res], req Req, opts ...CallOption) status.Status[Res] {
	raw := c.Call(ctx, call.Name, req, opts...)
	return status.Map(raw, func(v json.RawMessage) (Res, error) {
		var res Res
		if len(v) == 0 || string(v) == "null" {
			return res, nil
		}
		if err := json.Unmarshal(v, &res); err != nil {
			return res, fmt.Errorf("protocol error: decoding %s result: %v", call.Name, err)
		}
		return res, nil
	})
}

// --- Inbound routing ---

func (c *Channel) handleInbound(gen uint64, data []byte) {
	if c.conn == nil || c.conn.gen != gen {
		return
	}
	env, err := ergosockets.Decode(data)
	if err != nil {
		c.metrics.drop("malformed")
		c.cfg.logger.Warn(fmt.Sprintf("Channel %s: dropping inbound message: %v", c.url, err))
		return
	}

	switch env.Kind() {
	case ergosockets.KindResponse:
		c.handleResponse(env)
	case ergosockets.KindPush:
		c.handlePush(env)
	default:
		c.metrics.drop("unexpected_request")
		c.cfg.logger.Warn(fmt.Sprintf("Channel %s: dropping %v: %q (ID: %d)", c.url, ergosockets.ErrUnknownType, env.Type, env.ID))
	}
}

func (c *Channel) handleResponse(env *ergosockets.Envelope) {
	name, issuedAt, ok := c.registry.Lookup(env.ID)
	if !ok {
		// Late (already timed out or flushed) or duplicate response.
		c.metrics.drop("unknown_id")
		c.cfg.logger.Debug(fmt.Sprintf("Channel %s: dropping %s for unknown ID %d", c.url, env.Type, env.ID))
		return
	}

	var st status.Status[json.RawMessage]
	if env.Name() != name {
		st = status.Errf[json.RawMessage]("protocol error: %q does not answer %q", env.Type, ergosockets.RequestTag(name))
	} else if decoded, err := ergosockets.DecodeStatus[json.RawMessage](env.Payload); err != nil {
		st = status.Errf[json.RawMessage]("protocol error: %v", err)
	} else {
		st = decoded
	}
	c.registry.Resolve(env.ID, st)
	c.syncPending()
	c.cfg.logger.Debug(fmt.Sprintf("Channel %s: %s (ID: %d) resolved after %v", c.url, env.Type, env.ID, c.cfg.clock.Now().Sub(issuedAt)))
}

// --- Push subscriptions ---

// Subscription is the handle returned by On. Cancel it to stop receiving.
type Subscription struct {
	ch        *Channel
	name      string
	id        uint64
	handler   func(json.RawMessage)
	cancelled atomic.Bool
	once      sync.Once
}

// Name returns the push message name the subscription listens to.
func (s *Subscription) Name() string { return s.name }

// Cancel stops delivery to this subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		s.ch.post(func() {
			if set, ok := s.ch.subs[s.name]; ok {
				delete(set, s.id)
				if len(set) == 0 {
					delete(s.ch.subs, s.name)
				}
			}
		})
	})
}

type pushDelivery struct {
	name    string
	payload json.RawMessage
	subs    []*Subscription
}

// On registers handler for every inbound push message named name. Several
// handlers may listen to the same name; all of them are invoked. Handlers run
// on a dedicated goroutine in arrival order and may issue calls themselves.
func (c *Channel) On(name string, handler func(json.RawMessage)) *Subscription {
	sub := &Subscription{ch: c, name: name, handler: handler}
	done := make(chan struct{})
	ok := c.post(func() {
		defer close(done)
		c.subSeq++
		sub.id = c.subSeq
		set, exists := c.subs[name]
		if !exists {
			set = make(map[uint64]*Subscription)
			c.subs[name] = set
		}
		set[sub.id] = sub
	})
	if !ok {
		sub.cancelled.Store(true)
		return sub
	}
	select {
	case <-done:
	case <-c.quit:
	}
	return sub
}

// Subscribe registers a typed handler for push messages of kind p. Payloads
// that do not decode into T are logged and skipped.
func Subscribe[T any](c *Channel, p ergosockets.Push[T], handler func(T)) *Subscription {
	return c.On(p.Name, func(raw json.RawMessage) {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				c.metrics.drop("undecodable_push")
				c.cfg.logger.Warn(fmt.Sprintf("Channel %s: failed to decode push %q into %T: %v", c.url, p.Name, v, err))
				return
			}
		}
		handler(v)
	})
}

func (c *Channel) handlePush(env *ergosockets.Envelope) {
	set := c.subs[env.Type]
	if len(set) == 0 {
		c.metrics.drop("no_subscriber")
		c.cfg.logger.Debug(fmt.Sprintf("Channel %s: no subscriber for push %q", c.url, env.Type))
		return
	}
	d := pushDelivery{name: env.Type, payload: env.Payload, subs: make([]*Subscription, 0, len(set))}
	for _, sub := range set {
		d.subs = append(d.subs, sub)
	}
	select {
	case c.pushQueue <- d:
	default:
		c.metrics.drop("push_queue_full")
		c.cfg.logger.Warn(fmt.Sprintf("Channel %s: push queue full, dropping %q", c.url, env.Type))
	}
}

func (c *Channel) dispatchPushes() {
	for {
		select {
		case d := <-c.pushQueue:
			for _, sub := range d.subs {
				if sub.cancelled.Load() {
					continue
				}
				c.invokeHandler(sub, d.payload)
			}
		case <-c.quit:
			return
		}
	}
}

func (c *Channel) invokeHandler(sub *Subscription, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.cfg.logger.Error(fmt.Sprintf("Channel %s: push handler for %q panicked: %v", c.url, sub.name, r))
		}
	}()
	sub.handler(payload)
}
