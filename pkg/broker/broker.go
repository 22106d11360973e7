// Package broker is the server end of the control channel. It accepts
// WebSocket sessions, answers "<name>_req" envelopes with "<name>_res" status
// envelopes produced by registered handlers, and fans push messages out to
// every connected session.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/cskr/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/lightforgemedia/go-mcremote/pkg/ergosockets"
	"github.com/lightforgemedia/go-mcremote/pkg/status"
)

const (
	defaultSendBuffer          = 16
	defaultWriteTimeout        = 10 * time.Second
	libraryDefaultPingInterval = 30 * time.Second // used when WithPingInterval(0)
	defaultReadLimit           = 1024 * 1024      // 1MB
	defaultBusCapacity         = 16
	slowSessionDropLimit       = 3

	// pushTopic is the bus topic every session listens on.
	pushTopic = "push"
)

// ErrShuttingDown is returned by operations on a broker after Shutdown.
var ErrShuttingDown = errors.New("broker is shutting down")

type brokerConfig struct {
	logger        *slog.Logger
	acceptOptions *websocket.AcceptOptions
	sendBuffer    int
	writeTimeout  time.Duration
	pingInterval  time.Duration // 0 means use libraryDefaultPingInterval, <0 means disable
	readLimit     int64
	requestRate   rate.Limit // 0 disables limiting
	requestBurst  int
	registerer    prometheus.Registerer
}

// handler answers one request payload with a status.
type handler func(ctx context.Context, payload json.RawMessage) status.Status[json.RawMessage]

// Broker manages sessions and routes their requests to handlers.
type Broker struct {
	config  brokerConfig
	metrics *brokerMetrics
	bus     *pubsub.PubSub

	sessionsMu sync.RWMutex
	sessions   map[string]*session
	sessionsWG sync.WaitGroup

	handlersMu sync.RWMutex
	handlers   map[string]handler

	shutdownOnce sync.Once
	busOnce      sync.Once
	shutdownChan chan struct{} // closed when the broker starts shutting down
	mainCtx      context.Context
	mainCancel   context.CancelFunc
}

// New creates a Broker.
func New(opts ...Option) (*Broker, error) {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	b := &Broker{
		config: brokerConfig{
			logger:       slog.Default(),
			sendBuffer:   defaultSendBuffer,
			writeTimeout: defaultWriteTimeout,
			readLimit:    defaultReadLimit,
		},
		sessions:     make(map[string]*session),
		handlers:     make(map[string]handler),
		shutdownChan: make(chan struct{}),
		mainCtx:      mainCtx,
		mainCancel:   mainCancel,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.config.pingInterval == 0 {
		b.config.pingInterval = libraryDefaultPingInterval
	} else if b.config.pingInterval < 0 {
		b.config.pingInterval = 0
	}
	if b.config.acceptOptions == nil {
		b.config.acceptOptions = &websocket.AcceptOptions{}
	}
	if b.config.requestRate < 0 || (b.config.requestRate > 0 && b.config.requestBurst <= 0) {
		mainCancel()
		return nil, fmt.Errorf("broker: invalid request rate %v with burst %d", b.config.requestRate, b.config.requestBurst)
	}

	b.metrics = newBrokerMetrics(b.config.registerer)
	b.bus = pubsub.New(defaultBusCapacity)

	b.config.logger.Info(fmt.Sprintf("Broker: Initialized. Ping interval: %v, Session send buffer: %d", b.config.pingInterval, b.config.sendBuffer))
	return b, nil
}

// Handle registers fn as the handler for call. A handler error is sent to the
// caller as {ok:false,error}; a request payload that does not decode into Req
// is answered with "invalid payload: ...". The session that issued the request
// is available through SessionFromContext.
func Handle[Req, Res any](b *Broker, call ergosockets.Call[Req, Res], fn func(ctx context.Context, req Req) (Res, error)) error {
	if fn == nil {
		return fmt.Errorf("broker: nil handler for %q", call.Name)
	}
	return b.register(call.Name, func(ctx context.Context, payload json.RawMessage) status.Status[json.RawMessage] {
		var req Req
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &req); err != nil {
				return status.Errf[json.RawMessage]("invalid payload: %v", err)
			}
		}
		res, err := fn(ctx, req)
		if err != nil {
			return status.Err[json.RawMessage](err.Error())
		}
		raw, err := json.Marshal(res)
		if err != nil {
			return status.Errf[json.RawMessage]("server error: encoding result: %v", err)
		}
		return status.Ok(json.RawMessage(raw))
	})
}

func (b *Broker) register(name string, h handler) error {
	if name == "" {
		return errors.New("broker: empty call name")
	}
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	if _, exists := b.handlers[name]; exists {
		return fmt.Errorf("broker: handler already registered for %q", name)
	}
	b.handlers[name] = h
	b.config.logger.Info(fmt.Sprintf("Broker: Registered handler for '%s'", ergosockets.RequestTag(name)))
	return nil
}

func (b *Broker) lookup(name string) (handler, bool) {
	b.handlersMu.RLock()
	defer b.handlersMu.RUnlock()
	h, ok := b.handlers[name]
	return h, ok
}

// UpgradeHandler returns an http.HandlerFunc that accepts WebSocket sessions.
func (b *Broker) UpgradeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-b.shutdownChan:
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			b.config.logger.Info("Broker: Rejected connection, server shutting down.")
			return
		default:
		}

		conn, err := websocket.Accept(w, r, b.config.acceptOptions)
		if err != nil {
			b.config.logger.Info(fmt.Sprintf("Broker: Failed to accept websocket connection: %v", err))
			return
		}
		conn.SetReadLimit(b.config.readLimit)

		s := newSession(b, conn, r.RemoteAddr)
		if !b.addSession(s) {
			s.cancel()
			conn.Close(websocket.StatusGoingAway, "server is shutting down")
			return
		}
		s.logger.Info(fmt.Sprintf("Broker: Session %s connected from %s", s.id, s.remoteAddr))

		go s.forwardPushes()
		go s.writePump()
		go s.readPump()
		if b.config.pingInterval > 0 {
			go s.pingLoop()
		}
	}
}

func (b *Broker) addSession(s *session) bool {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()
	select {
	case <-b.shutdownChan:
		return false
	default:
	}
	s.pushes = b.bus.Sub(pushTopic)
	b.sessions[s.id] = s
	b.sessionsWG.Add(1)
	b.metrics.setSessions(len(b.sessions))
	return true
}

func (b *Broker) removeSession(s *session) {
	s.cancel()

	b.sessionsMu.Lock()
	if _, exists := b.sessions[s.id]; !exists {
		b.sessionsMu.Unlock()
		return
	}
	delete(b.sessions, s.id)
	b.metrics.setSessions(len(b.sessions))
	b.sessionsMu.Unlock()

	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.logger.Info(fmt.Sprintf("Broker: Session %s disconnected and removed.", s.id))

	// Unsub runs through the bus goroutine, which may be blocked delivering to
	// this session; forwardPushes keeps draining until the channel closes.
	go func() {
		defer b.sessionsWG.Done()
		b.bus.Unsub(s.pushes, pushTopic)
	}()
}

// Push sends an unsolicited message to every connected session. Delivery is
// best effort: a session whose send buffer is full misses the message.
func (b *Broker) Push(name string, payload interface{}) error {
	if kind, _ := ergosockets.Classify(name); name == "" || kind != ergosockets.KindPush {
		return fmt.Errorf("broker: %q is not a push message name", name)
	}
	env, err := ergosockets.NewEnvelope(0, name, payload)
	if err != nil {
		return fmt.Errorf("broker: failed to create push envelope for '%s': %w", name, err)
	}

	// Pub must not run after bus.Shutdown; Shutdown closes shutdownChan under
	// the write lock first.
	b.sessionsMu.RLock()
	defer b.sessionsMu.RUnlock()
	select {
	case <-b.shutdownChan:
		return ErrShuttingDown
	default:
	}
	b.metrics.push(name)
	b.config.logger.Debug(fmt.Sprintf("Broker: Pushing '%s' to %d sessions", name, len(b.sessions)))
	b.bus.Pub(env, pushTopic)
	return nil
}

// Sessions returns the number of connected sessions.
func (b *Broker) Sessions() int {
	b.sessionsMu.RLock()
	defer b.sessionsMu.RUnlock()
	return len(b.sessions)
}

// IterateSessions calls f for a snapshot of the connected sessions until f
// returns false.
func (b *Broker) IterateSessions(f func(Session) bool) {
	b.sessionsMu.RLock()
	snapshot := make([]Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		snapshot = append(snapshot, s)
	}
	b.sessionsMu.RUnlock()

	for _, s := range snapshot {
		if !f(s) {
			break
		}
	}
}

// Context returns the broker's main context, which is cancelled on Shutdown.
func (b *Broker) Context() context.Context {
	return b.mainCtx
}

// Shutdown closes every session and waits for them to finish, bounded by ctx.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() {
		b.config.logger.Info(fmt.Sprintf("Broker: Initiating shutdown, %d sessions connected...", b.Sessions()))
		b.sessionsMu.Lock()
		close(b.shutdownChan)
		b.sessionsMu.Unlock()
		b.mainCancel()
	})

	done := make(chan struct{})
	go func() {
		b.sessionsWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.config.logger.Info(fmt.Sprintf("Broker: Shutdown context done with %d sessions remaining: %v", b.Sessions(), ctx.Err()))
		return ctx.Err()
	}

	b.busOnce.Do(b.bus.Shutdown)
	b.config.logger.Info("Broker: Shutdown complete.")
	return nil
}
