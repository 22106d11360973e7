package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
	"github.com/lightforgemedia/go-mcremote/pkg/pending"
)

// Sim is a simulated server. It starts OFF; a boot reaches ON and a shutdown
// reaches OFF after the configured durations.
type Sim struct {
	tracker
	logger           *slog.Logger
	clock            pending.Clock
	bootDuration     time.Duration
	shutdownDuration time.Duration
	timer            pending.Timer
}

var _ ServerController = (*Sim)(nil)

func NewSim(opts ...Option) *Sim {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Sim{
		logger:           o.logger,
		clock:            o.clock,
		bootDuration:     o.bootDuration,
		shutdownDuration: o.shutdownDuration,
	}
	s.state = mcproto.StateOff
	return s
}

// SetDurations changes the simulated boot and shutdown times. Transitions
// already in progress keep their original duration.
func (s *Sim) SetDurations(boot, shutdown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if boot > 0 {
		s.bootDuration = boot
	}
	if shutdown > 0 {
		s.shutdownDuration = shutdown
	}
}

func (s *Sim) ServerState(ctx context.Context) (mcproto.ServerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *Sim) BootServer(ctx context.Context) error {
	return s.begin("on", mcproto.StateOff, mcproto.StateBooting, mcproto.StateOn, func() time.Duration { return s.bootDuration })
}

func (s *Sim) ShutdownServer(ctx context.Context) error {
	return s.begin("off", mcproto.StateOn, mcproto.StateShutdown, mcproto.StateOff, func() time.Duration { return s.shutdownDuration })
}

func (s *Sim) begin(op string, from, during, to mcproto.ServerState, duration func() time.Duration) error {
	s.mu.Lock()
	if s.state != from {
		st := s.state
		s.mu.Unlock()
		return &InvalidOpError{Op: op, State: st}
	}
	notify := s.set(during)
	d := duration()
	s.timer = s.clock.AfterFunc(d, func() { s.complete(during, to) })
	s.mu.Unlock()

	s.logger.Info(fmt.Sprintf("Sim: turning server %s, done in %v", op, d))
	notify()
	return nil
}

func (s *Sim) complete(during, to mcproto.ServerState) {
	s.mu.Lock()
	if s.state != during {
		s.mu.Unlock()
		return
	}
	notify := s.set(to)
	s.timer = nil
	s.mu.Unlock()

	s.logger.Info(fmt.Sprintf("Sim: server is %s", to))
	notify()
}

// Stop cancels an in-progress simulated transition.
func (s *Sim) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
