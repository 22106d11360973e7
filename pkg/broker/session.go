package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/lightforgemedia/go-mcremote/pkg/ergosockets"
	"github.com/lightforgemedia/go-mcremote/pkg/status"
)

// session is the broker's side of one client connection.
type session struct {
	id          string
	remoteAddr  string
	connectedAt time.Time
	conn        *websocket.Conn
	broker      *Broker
	send        chan *ergosockets.Envelope // buffered outgoing messages
	pushes      chan interface{}           // bus subscription, set by addSession
	limiter     *rate.Limiter              // nil when rate limiting is off
	logger      *slog.Logger

	ctx    context.Context // derived from broker.mainCtx
	cancel context.CancelFunc

	droppedMessages atomic.Int32
}

func newSession(b *Broker, conn *websocket.Conn, remoteAddr string) *session {
	ctx, cancel := context.WithCancel(b.mainCtx)
	s := &session{
		id:          ergosockets.GenerateID(),
		remoteAddr:  remoteAddr,
		connectedAt: ergosockets.TimeNow(),
		conn:        conn,
		broker:      b,
		send:        make(chan *ergosockets.Envelope, b.config.sendBuffer),
		logger:      b.config.logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	if b.config.requestRate > 0 {
		s.limiter = rate.NewLimiter(b.config.requestRate, b.config.requestBurst)
	}
	return s
}

func (s *session) ID() string               { return s.id }
func (s *session) RemoteAddr() string       { return s.remoteAddr }
func (s *session) ConnectedAt() time.Time   { return s.connectedAt }
func (s *session) Context() context.Context { return s.ctx }

func (s *session) Send(name string, payload interface{}) error {
	select {
	case <-s.ctx.Done():
		return fmt.Errorf("session %s disconnected: %w", s.id, s.ctx.Err())
	default:
	}
	if kind, _ := ergosockets.Classify(name); name == "" || kind != ergosockets.KindPush {
		return fmt.Errorf("broker: %q is not a push message name", name)
	}
	env, err := ergosockets.NewEnvelope(0, name, payload)
	if err != nil {
		return fmt.Errorf("failed to create push envelope for session %s: %w", s.id, err)
	}
	s.trySend(env)
	return nil
}

func (s *session) readPump() {
	defer s.broker.removeSession(s)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
				closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.logger.Info(fmt.Sprintf("Broker: Session %s readPump closing gracefully: %v", s.id, err))
			} else {
				s.logger.Info(fmt.Sprintf("Broker: Session %s read error in readPump: %v (status: %d)", s.id, err, closeStatus))
			}
			return
		}

		env, err := ergosockets.Decode(data)
		if err != nil {
			s.broker.metrics.drop("malformed")
			s.logger.Warn(fmt.Sprintf("Broker: Session %s sent a malformed envelope: %v", s.id, err))
			continue
		}

		switch env.Kind() {
		case ergosockets.KindRequest:
			if s.limiter != nil && !s.limiter.Allow() {
				s.broker.metrics.request(env.Name(), "rate_limited")
				s.reply(env, status.Err[json.RawMessage]("rate limited"))
				continue
			}
			go s.handleRequest(env)
		default:
			s.broker.metrics.drop("unexpected_" + env.Kind().String())
			s.logger.Info(fmt.Sprintf("Broker: Session %s sent unexpected %s '%s'", s.id, env.Kind(), env.Type))
		}
	}
}

func (s *session) handleRequest(env *ergosockets.Envelope) {
	name := env.Name()
	h, ok := s.broker.lookup(name)
	if !ok {
		s.logger.Info(fmt.Sprintf("Broker: No handler for '%s' from session %s", env.Type, s.id))
		s.broker.metrics.request(name, "unknown")
		s.reply(env, status.Errf[json.RawMessage]("unknown call: %s", name))
		return
	}

	ctx := context.WithValue(s.ctx, sessionKey{}, Session(s))
	st := s.invoke(ctx, h, env)
	if st.IsOk() {
		s.broker.metrics.request(name, "ok")
	} else {
		s.logger.Info(fmt.Sprintf("Broker: Handler for '%s' (session %s) returned error: %s", env.Type, s.id, st.Error()))
		s.broker.metrics.request(name, "error")
	}
	s.reply(env, st)
}

func (s *session) invoke(ctx context.Context, h handler, env *ergosockets.Envelope) (st status.Status[json.RawMessage]) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Sprintf("Broker: Handler for '%s' panicked: %v", env.Type, r))
			st = status.Errf[json.RawMessage]("server error: handler panicked")
		}
	}()
	return h(ctx, env.Payload)
}

func (s *session) reply(req *ergosockets.Envelope, st status.Status[json.RawMessage]) {
	env, err := ergosockets.NewEnvelope(req.ID, ergosockets.ResponseTag(req.Name()), st)
	if err != nil {
		s.logger.Info(fmt.Sprintf("Broker: Failed to create response envelope for '%s' (session %s): %v", req.Type, s.id, err))
		return
	}
	s.trySend(env)
}

// forwardPushes relays bus messages until the subscription channel is closed
// by Unsub or bus shutdown. It must keep draining after the session ends so
// the bus never blocks on this subscriber.
func (s *session) forwardPushes() {
	for msg := range s.pushes {
		env, ok := msg.(*ergosockets.Envelope)
		if !ok || s.ctx.Err() != nil {
			continue
		}
		s.trySend(env)
	}
}

// trySend queues env without blocking. A session that keeps its buffer full
// is disconnected.
func (s *session) trySend(env *ergosockets.Envelope) {
	select {
	case s.send <- env:
		s.droppedMessages.Store(0)
	case <-s.ctx.Done():
		s.logger.Debug(fmt.Sprintf("Broker: Session %s context done, cannot send '%s'", s.id, env.Type))
	default:
		s.broker.metrics.drop("send_buffer_full")
		dropped := s.droppedMessages.Add(1)
		s.logger.Info(fmt.Sprintf("Broker: Session %s send buffer full, dropped '%s' (%d in a row)", s.id, env.Type, dropped))
		if dropped >= slowSessionDropLimit {
			s.logger.Info(fmt.Sprintf("Broker: Session %s dropped %d messages, disconnecting slow session.", s.id, dropped))
			s.conn.Close(websocket.StatusPolicyViolation, "too many dropped messages")
			go s.broker.removeSession(s)
		}
	}
}

func (s *session) writePump() {
	for {
		select {
		case message := <-s.send:
			writeCtx, cancel := context.WithTimeout(s.ctx, s.broker.config.writeTimeout)
			err := wsjson.Write(writeCtx, s.conn, message)
			cancel()
			if err != nil {
				s.logger.Info(fmt.Sprintf("Broker: Session %s write error in writePump: %v. Closing connection.", s.id, err))
				s.conn.Close(websocket.StatusInternalError, "write error")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *session) pingLoop() {
	interval := s.broker.config.pingInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, interval/2)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Info(fmt.Sprintf("Broker: Session %s ping failed: %v. Closing connection.", s.id, err))
					s.conn.Close(websocket.StatusPolicyViolation, "ping failure")
				}
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
