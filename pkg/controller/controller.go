// Package controller drives the game server process behind the remote control
// endpoint. Two implementations exist: Systemctl manages a systemd unit, Sim
// fakes one for development and tests.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
	"github.com/lightforgemedia/go-mcremote/pkg/pending"
)

// ServerController reports and changes the state of the game server.
type ServerController interface {
	// ServerState returns the current state.
	ServerState(ctx context.Context) (mcproto.ServerState, error)
	// BootServer starts the server. It returns once the boot is triggered.
	BootServer(ctx context.Context) error
	// ShutdownServer stops the server. It returns once the shutdown is triggered.
	ShutdownServer(ctx context.Context) error
	// OnChange registers fn to be called after every state transition.
	OnChange(fn func(mcproto.ServerState))
}

// InvalidOpError reports an operation that is not allowed in the current state.
type InvalidOpError struct {
	Op    string // "on" or "off"
	State mcproto.ServerState
}

func (e *InvalidOpError) Error() string {
	return fmt.Sprintf("can't turn server %s in %s state", e.Op, e.State)
}

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.Code, e.Output)
}

const (
	DefaultUnit             = "mc_server.service"
	DefaultRefreshInterval  = 5 * time.Second
	DefaultBootDuration     = 5 * time.Second
	DefaultShutdownDuration = 5 * time.Second
)

type options struct {
	logger           *slog.Logger
	clock            pending.Clock
	unit             string
	runner           CommandRunner
	refreshInterval  time.Duration
	bootDuration     time.Duration
	shutdownDuration time.Duration
}

func defaultOptions() options {
	return options{
		logger:           slog.Default(),
		clock:            pending.SystemClock{},
		unit:             DefaultUnit,
		runner:           ExecRunner{},
		refreshInterval:  DefaultRefreshInterval,
		bootDuration:     DefaultBootDuration,
		shutdownDuration: DefaultShutdownDuration,
	}
}

// Option configures a controller. Options that do not apply to a given
// implementation are ignored.
type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces the clock used for refresh caching and simulated delays.
func WithClock(clock pending.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithUnit sets the systemd unit name (Systemctl only).
func WithUnit(unit string) Option {
	return func(o *options) {
		if unit != "" {
			o.unit = unit
		}
	}
}

// WithRunner replaces the command runner (Systemctl only).
func WithRunner(r CommandRunner) Option {
	return func(o *options) {
		if r != nil {
			o.runner = r
		}
	}
}

// WithRefreshInterval sets how long a unit status query is reused (Systemctl only).
func WithRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.refreshInterval = d
		}
	}
}

// WithDurations sets how long simulated boots and shutdowns take (Sim only).
func WithDurations(boot, shutdown time.Duration) Option {
	return func(o *options) {
		if boot > 0 {
			o.bootDuration = boot
		}
		if shutdown > 0 {
			o.shutdownDuration = shutdown
		}
	}
}

// tracker holds the current state and notifies listeners of transitions.
// Callers hold mu while calling set and invoke the returned func after
// unlocking.
type tracker struct {
	mu       sync.Mutex
	state    mcproto.ServerState
	onChange []func(mcproto.ServerState)
}

func (t *tracker) OnChange(fn func(mcproto.ServerState)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.onChange = append(t.onChange, fn)
	t.mu.Unlock()
}

func (t *tracker) set(s mcproto.ServerState) (notify func()) {
	if t.state == s {
		return func() {}
	}
	t.state = s
	listeners := slices.Clone(t.onChange)
	return func() {
		for _, fn := range listeners {
			fn(s)
		}
	}
}
