package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lightforgemedia/go-mcremote/pkg/pending"
)

// DefaultCallTimeout bounds a call made without WithTimeout or a context
// deadline.
const DefaultCallTimeout = 20 * time.Second

const (
	defaultCallTimeout       = DefaultCallTimeout
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultSendBuffer        = 16
	defaultPushBuffer        = 64
	defaultReadLimit         = 1024 * 1024 // 1MB
	defaultReconnectDelayMin = 1 * time.Second
	defaultReconnectDelayMax = 30 * time.Second
	defaultReconnectFactor   = 2.0
	defaultReconnectJitter   = 0.25
)

type channelConfig struct {
	logger         *slog.Logger
	dialer         Dialer
	dialOptions    *websocket.DialOptions
	autoReconnect  bool
	backoff        Backoff
	defaultTimeout time.Duration
	dialTimeout    time.Duration
	writeTimeout   time.Duration
	sendBuffer     int
	pushBuffer     int
	readLimit      int64
	clock          pending.Clock
	registerer     prometheus.Registerer
}

func defaultConfig() channelConfig {
	return channelConfig{
		logger:        slog.Default(),
		autoReconnect: true,
		backoff: Backoff{
			Min:        defaultReconnectDelayMin,
			Max:        defaultReconnectDelayMax,
			Multiplier: defaultReconnectFactor,
			Jitter:     defaultReconnectJitter,
		},
		defaultTimeout: defaultCallTimeout,
		dialTimeout:    defaultDialTimeout,
		writeTimeout:   defaultWriteTimeout,
		sendBuffer:     defaultSendBuffer,
		pushBuffer:     defaultPushBuffer,
		readLimit:      defaultReadLimit,
		clock:          pending.SystemClock{},
	}
}

// Option configures a Channel.
type Option func(*channelConfig)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *channelConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAutoReconnect toggles reconnecting after the connection is lost. Enabled by default.
func WithAutoReconnect(enabled bool) Option {
	return func(c *channelConfig) {
		c.autoReconnect = enabled
	}
}

// WithReconnectBackoff sets the reconnect delay policy. The delay starts at
// minDelay and is multiplied by factor after every failed attempt, capped at maxDelay.
func WithReconnectBackoff(minDelay, maxDelay time.Duration, factor float64) Option {
	return func(c *channelConfig) {
		if minDelay > 0 {
			c.backoff.Min = minDelay
		}
		if maxDelay > 0 {
			c.backoff.Max = maxDelay
		}
		if c.backoff.Max < c.backoff.Min {
			c.backoff.Max = c.backoff.Min // Ensure max is not less than min
		}
		if factor >= 1 {
			c.backoff.Multiplier = factor
		}
	}
}

// WithReconnectJitter sets the random spread added to each reconnect delay,
// as a fraction of the delay. 0 disables jitter.
func WithReconnectJitter(fraction float64) Option {
	return func(c *channelConfig) {
		if fraction >= 0 {
			c.backoff.Jitter = fraction
		}
	}
}

// WithDefaultTimeout sets the timeout applied to calls that do not override it.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *channelConfig) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// WithDialTimeout bounds each connect attempt.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *channelConfig) {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *channelConfig) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// WithSendBuffer sets how many outbound frames may wait for the write pump.
// A call that finds the buffer full fails immediately.
func WithSendBuffer(size int) Option {
	return func(c *channelConfig) {
		if size > 0 {
			c.sendBuffer = size
		}
	}
}

// WithPushBuffer sets how many push messages may wait for their handlers
// before new ones are dropped.
func WithPushBuffer(size int) Option {
	return func(c *channelConfig) {
		if size > 0 {
			c.pushBuffer = size
		}
	}
}

// WithReadLimit sets the maximum inbound frame size for the default dialer.
func WithReadLimit(limit int64) Option {
	return func(c *channelConfig) {
		if limit > 0 {
			c.readLimit = limit
		}
	}
}

// WithDialOptions sets custom websocket.DialOptions for the default dialer.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *channelConfig) {
		c.dialOptions = opts
	}
}

// WithDialer replaces the WebSocket dialer, e.g. with an in-memory transport in tests.
func WithDialer(d Dialer) Option {
	return func(c *channelConfig) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithClock replaces the clock driving call timeouts and reconnect delays.
func WithClock(clock pending.Clock) Option {
	return func(c *channelConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetrics registers the channel's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *channelConfig) {
		c.registerer = reg
	}
}

// Options contains configuration values for NewWithOptions.
type Options struct {
	Logger            *slog.Logger
	DialOptions       *websocket.DialOptions
	AutoReconnect     bool
	ReconnectDelayMin time.Duration
	ReconnectDelayMax time.Duration
	ReconnectFactor   float64
	DefaultTimeout    time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	Registerer        prometheus.Registerer
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:            slog.Default(),
		DialOptions:       &websocket.DialOptions{HTTPClient: http.DefaultClient},
		AutoReconnect:     true,
		ReconnectDelayMin: defaultReconnectDelayMin,
		ReconnectDelayMax: defaultReconnectDelayMax,
		ReconnectFactor:   defaultReconnectFactor,
		DefaultTimeout:    defaultCallTimeout,
		DialTimeout:       defaultDialTimeout,
		WriteTimeout:      defaultWriteTimeout,
		SendBuffer:        defaultSendBuffer,
	}
}

// NewWithOptions creates a Channel from an Options struct. Zero values fall
// back to library defaults.
func NewWithOptions(url string, opts Options) (*Channel, error) {
	return New(url,
		WithLogger(opts.Logger),
		WithDialOptions(opts.DialOptions),
		WithAutoReconnect(opts.AutoReconnect),
		WithReconnectBackoff(opts.ReconnectDelayMin, opts.ReconnectDelayMax, opts.ReconnectFactor),
		WithDefaultTimeout(opts.DefaultTimeout),
		WithDialTimeout(opts.DialTimeout),
		WithWriteTimeout(opts.WriteTimeout),
		WithSendBuffer(opts.SendBuffer),
		WithMetrics(opts.Registerer),
	)
}
