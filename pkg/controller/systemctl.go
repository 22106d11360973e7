package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
	"github.com/lightforgemedia/go-mcremote/pkg/pending"
)

// CommandRunner runs an external command. A non-zero exit is reported through
// exitCode, not err; err is for commands that could not run at all.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (output []byte, exitCode int, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), nil
	}
	if err != nil {
		return out, -1, err
	}
	return out, 0, nil
}

// systemctl is-active exits with 4 for units that do not exist.
const exitUnitNotFound = 4

const stopTimeout = 5 * time.Minute

// Systemctl manages the server as a systemd unit. The unit's activity is
// cached for the refresh interval.
type Systemctl struct {
	tracker
	logger  *slog.Logger
	clock   pending.Clock
	unit    string
	runner  CommandRunner
	refresh time.Duration

	loaded      bool
	lastUpdated time.Time
	stopping    sync.WaitGroup
}

var _ ServerController = (*Systemctl)(nil)

func NewSystemctl(opts ...Option) *Systemctl {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Systemctl{
		logger:  o.logger,
		clock:   o.clock,
		unit:    o.unit,
		runner:  o.runner,
		refresh: o.refreshInterval,
	}
	s.state = mcproto.StateUnknown
	return s
}

// Unit returns the managed unit name.
func (s *Systemctl) Unit() string { return s.unit }

// maybeUpdate refreshes the cached state when it is older than the refresh
// interval. Callers hold mu.
func (s *Systemctl) maybeUpdate(ctx context.Context) (func(), error) {
	if s.loaded && s.clock.Now().Before(s.lastUpdated.Add(s.refresh)) {
		return func() {}, nil
	}
	return s.update(ctx)
}

// update queries the unit and folds its activity into the tracked state: a
// shutdown in progress stays SHUTDOWN and a boot stays BOOTING until the unit
// becomes active. Callers hold mu.
func (s *Systemctl) update(ctx context.Context) (func(), error) {
	active, err := s.isActive(ctx)
	if err != nil {
		return func() {}, err
	}
	s.loaded = true
	s.lastUpdated = s.clock.Now()

	next := mcproto.StateOff
	switch {
	case s.state == mcproto.StateShutdown:
		next = mcproto.StateShutdown
	case s.state == mcproto.StateBooting && !active:
		next = mcproto.StateBooting
	case active:
		next = mcproto.StateOn
	}
	return s.set(next), nil
}

func (s *Systemctl) isActive(ctx context.Context) (bool, error) {
	out, code, err := s.runner.Run(ctx, "systemctl", "is-active", s.unit)
	if err != nil {
		return false, fmt.Errorf("controller: querying %s: %w", s.unit, err)
	}
	if code == exitUnitNotFound {
		return false, fmt.Errorf("controller: unit %q does not exist", s.unit)
	}
	return code == 0 && strings.TrimSpace(string(out)) == "active", nil
}

func (s *Systemctl) command(ctx context.Context, verb string) error {
	out, code, err := s.runner.Run(ctx, "systemctl", verb, s.unit)
	if err != nil {
		return fmt.Errorf("controller: systemctl %s %s: %w", verb, s.unit, err)
	}
	if code != 0 {
		return &ExitError{Command: "systemctl " + verb + " " + s.unit, Code: code, Output: string(bytes.TrimSpace(out))}
	}
	return nil
}

func (s *Systemctl) ServerState(ctx context.Context) (mcproto.ServerState, error) {
	s.mu.Lock()
	notify, err := s.maybeUpdate(ctx)
	st := s.state
	s.mu.Unlock()
	notify()
	return st, err
}

// BootServer starts the unit from OFF. The state is BOOTING until a refresh
// sees the unit active; a failed start returns to OFF.
func (s *Systemctl) BootServer(ctx context.Context) error {
	s.mu.Lock()
	notify, err := s.maybeUpdate(ctx)
	if err != nil {
		s.mu.Unlock()
		notify()
		return err
	}
	if s.state != mcproto.StateOff {
		st := s.state
		s.mu.Unlock()
		notify()
		return &InvalidOpError{Op: "on", State: st}
	}
	booting := s.set(mcproto.StateBooting)
	s.mu.Unlock()
	notify()
	booting()

	s.logger.Info(fmt.Sprintf("Systemctl: starting %s", s.unit))
	if err := s.command(ctx, "start"); err != nil {
		s.logger.Warn(fmt.Sprintf("Systemctl: start %s failed: %v", s.unit, err))
		s.mu.Lock()
		aborted := s.set(mcproto.StateOff)
		s.mu.Unlock()
		aborted()
		return err
	}
	return nil
}

// ShutdownServer moves the state from ON to SHUTDOWN and stops the unit in the
// background, since a game server may take a while to save and exit.
func (s *Systemctl) ShutdownServer(ctx context.Context) error {
	s.mu.Lock()
	notify, err := s.maybeUpdate(ctx)
	if err != nil {
		s.mu.Unlock()
		notify()
		return err
	}
	if s.state != mcproto.StateOn {
		st := s.state
		s.mu.Unlock()
		notify()
		return &InvalidOpError{Op: "off", State: st}
	}
	shutting := s.set(mcproto.StateShutdown)
	s.mu.Unlock()
	notify()
	shutting()

	s.logger.Info(fmt.Sprintf("Systemctl: stopping %s", s.unit))
	s.stopping.Add(1)
	go func() {
		defer s.stopping.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		s.finishShutdown(stopCtx, s.command(stopCtx, "stop"))
	}()
	return nil
}

func (s *Systemctl) finishShutdown(ctx context.Context, stopErr error) {
	s.mu.Lock()
	if stopErr == nil {
		notify := s.set(mcproto.StateOff)
		s.lastUpdated = s.clock.Now()
		s.mu.Unlock()
		s.logger.Info(fmt.Sprintf("Systemctl: %s stopped", s.unit))
		notify()
		return
	}

	s.logger.Error(fmt.Sprintf("Systemctl: failed to shut down %s: %v", s.unit, stopErr))
	restored := s.set(mcproto.StateOn)
	refreshed, err := s.update(ctx)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Systemctl: refresh after failed stop: %v", err))
	}
	restored()
	refreshed()
}

// Wait blocks until background shutdowns have finished.
func (s *Systemctl) Wait() {
	s.stopping.Wait()
}
