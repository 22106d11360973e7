package broker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Option configures the Broker.
type Option func(*Broker)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.config.logger = logger
		}
	}
}

// WithAcceptOptions provides custom websocket.AcceptOptions.
func WithAcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(b *Broker) {
		b.config.acceptOptions = opts
	}
}

// WithSendBuffer sets the buffer size for outgoing messages per session.
// Default is 16. Large buffers only delay, not prevent, issues with slow clients.
func WithSendBuffer(size int) Option {
	return func(b *Broker) {
		if size > 0 {
			b.config.sendBuffer = size
		}
	}
}

// WithPingInterval sets the server-initiated ping interval.
// interval < 0: Disables server pings.
// interval == 0: Uses the library's default ping interval (30s).
// interval > 0: Uses the specified interval.
func WithPingInterval(interval time.Duration) Option {
	return func(b *Broker) {
		b.config.pingInterval = interval
	}
}

// WithWriteTimeout sets the write timeout for sending messages to sessions.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(b *Broker) {
		if timeout > 0 {
			b.config.writeTimeout = timeout
		}
	}
}

// WithReadLimit sets the maximum inbound frame size.
func WithReadLimit(limit int64) Option {
	return func(b *Broker) {
		if limit > 0 {
			b.config.readLimit = limit
		}
	}
}

// WithRequestRate limits each session to perSecond requests with the given
// burst. Requests over the limit are answered with "rate limited".
func WithRequestRate(perSecond float64, burst int) Option {
	return func(b *Broker) {
		b.config.requestRate = rate.Limit(perSecond)
		b.config.requestBurst = burst
	}
}

// WithMetrics registers the broker's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(b *Broker) {
		b.config.registerer = reg
	}
}

// Options contains configuration values for creating a Broker using NewWithOptions.
// All fields have reasonable defaults provided by DefaultOptions().
type Options struct {
	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// AcceptOptions configures the WebSocket accept behavior.
	// Defaults to &websocket.AcceptOptions{}.
	AcceptOptions *websocket.AcceptOptions

	// SendBuffer sets the buffer size for outgoing messages per session.
	// Must be greater than 0. Defaults to 16.
	SendBuffer int

	// WriteTimeout is the timeout for writing messages to sessions.
	// Must be positive. Defaults to 10 seconds.
	WriteTimeout time.Duration

	// PingInterval is the interval between ping messages.
	// Use 0 for library default (30s), negative to disable. Defaults to 30 seconds.
	PingInterval time.Duration

	// RequestRate and RequestBurst limit requests per session. 0 disables limiting.
	RequestRate  float64
	RequestBurst int

	// Registerer receives the broker's prometheus collectors. nil disables metrics.
	Registerer prometheus.Registerer
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:        slog.Default(),
		AcceptOptions: &websocket.AcceptOptions{},
		SendBuffer:    defaultSendBuffer,
		WriteTimeout:  defaultWriteTimeout,
		PingInterval:  libraryDefaultPingInterval,
	}
}

// NewWithOptions creates a new Broker using an Options struct.
// It validates the options and converts them to functional options before calling New().
// Additional functional options may be supplied and will override values from the struct.
func NewWithOptions(opts Options, extraOpts ...Option) (*Broker, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	optionFns := []Option{
		WithLogger(opts.Logger),
		WithAcceptOptions(opts.AcceptOptions),
		WithMetrics(opts.Registerer),
	}

	// Only apply non-zero values to avoid overriding defaults
	if opts.SendBuffer > 0 {
		optionFns = append(optionFns, WithSendBuffer(opts.SendBuffer))
	}
	if opts.WriteTimeout > 0 {
		optionFns = append(optionFns, WithWriteTimeout(opts.WriteTimeout))
	}
	// PingInterval: 0 means default, negative means disable, both are valid
	if opts.PingInterval != 0 {
		optionFns = append(optionFns, WithPingInterval(opts.PingInterval))
	}
	if opts.RequestRate > 0 {
		optionFns = append(optionFns, WithRequestRate(opts.RequestRate, opts.RequestBurst))
	}

	optionFns = append(optionFns, extraOpts...)
	return New(optionFns...)
}

func validateOptions(opts Options) error {
	if opts.SendBuffer < 0 {
		return errors.New("SendBuffer must be non-negative")
	}
	if opts.WriteTimeout < 0 {
		return errors.New("WriteTimeout must be non-negative")
	}
	if opts.RequestRate < 0 {
		return errors.New("RequestRate must be non-negative")
	}
	if opts.RequestRate > 0 && opts.RequestBurst <= 0 {
		return errors.New("RequestBurst must be positive when RequestRate is set")
	}
	return nil
}
