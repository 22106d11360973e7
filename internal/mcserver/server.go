// Package mcserver wires the controller, the broker and the HTTP endpoint of
// the mcserver binary together.
package mcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lightforgemedia/go-mcremote/internal/config"
	"github.com/lightforgemedia/go-mcremote/pkg/broker"
	"github.com/lightforgemedia/go-mcremote/pkg/controller"
	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
)

const shutdownGrace = 5 * time.Second

// Server is a running remote control endpoint.
type Server struct {
	cfg      *config.ServerConfig
	logger   *slog.Logger
	level    *slog.LevelVar
	ctrl     controller.ServerController
	sim      *controller.Sim // set in sim mode so reloads can retune it
	broker   *broker.Broker
	registry *prometheus.Registry
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithController replaces the controller selected by the configuration.
func WithController(c controller.ServerController) Option {
	return func(s *Server) {
		s.ctrl = c
	}
}

// WithLevel lets Apply change the log level of logger.
func WithLevel(level *slog.LevelVar) Option {
	return func(s *Server) {
		s.level = level
	}
}

// New builds the server described by cfg. Nothing listens until Serve.
func New(cfg *config.ServerConfig, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if s.ctrl == nil {
		s.ctrl = newController(cfg, logger)
	}
	if sim, ok := s.ctrl.(*controller.Sim); ok {
		s.sim = sim
	}

	b, err := broker.NewWithOptions(broker.Options{
		Logger:        logger,
		AcceptOptions: &websocket.AcceptOptions{OriginPatterns: cfg.Broker.AllowedOrigins},
		SendBuffer:    cfg.Broker.SendBuffer,
		WriteTimeout:  cfg.Broker.WriteTimeout.Std(),
		PingInterval:  cfg.Broker.PingInterval.Std(),
		RequestRate:   cfg.Broker.RequestRate,
		RequestBurst:  cfg.Broker.RequestBurst,
		Registerer:    s.registry,
	})
	if err != nil {
		return nil, fmt.Errorf("creating broker: %w", err)
	}
	s.broker = b

	if err := s.registerHandlers(); err != nil {
		b.Shutdown(context.Background())
		return nil, err
	}
	s.ctrl.OnChange(s.pushState)

	s.mux.Handle(cfg.Path, b.UpgradeHandler())
	if cfg.MetricsPath != "" {
		s.mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintln(w, "OK") })
	return s, nil
}

func newController(cfg *config.ServerConfig, logger *slog.Logger) controller.ServerController {
	c := cfg.Controller
	if c.Mode == config.ModeSystemctl {
		return controller.NewSystemctl(
			controller.WithLogger(logger),
			controller.WithUnit(c.Unit),
			controller.WithRefreshInterval(c.RefreshInterval.Std()),
		)
	}
	return controller.NewSim(
		controller.WithLogger(logger),
		controller.WithDurations(c.BootDuration.Std(), c.ShutdownDuration.Std()),
	)
}

func (s *Server) registerHandlers() error {
	if err := broker.Handle(s.broker, mcproto.McServerStatus, func(ctx context.Context, _ mcproto.Empty) (mcproto.ServerStatus, error) {
		return s.status(ctx)
	}); err != nil {
		return err
	}
	if err := broker.Handle(s.broker, mcproto.BootServer, func(ctx context.Context, _ mcproto.Empty) (mcproto.ServerStatus, error) {
		if err := s.ctrl.BootServer(ctx); err != nil {
			return mcproto.ServerStatus{}, err
		}
		return s.status(ctx)
	}); err != nil {
		return err
	}
	return broker.Handle(s.broker, mcproto.ShutdownServer, func(ctx context.Context, _ mcproto.Empty) (mcproto.ServerStatus, error) {
		if err := s.ctrl.ShutdownServer(ctx); err != nil {
			return mcproto.ServerStatus{}, err
		}
		return s.status(ctx)
	})
}

func (s *Server) status(ctx context.Context) (mcproto.ServerStatus, error) {
	st, err := s.ctrl.ServerState(ctx)
	if err != nil {
		return mcproto.ServerStatus{}, err
	}
	return mcproto.ServerStatus{State: st}, nil
}

func (s *Server) pushState(st mcproto.ServerState) {
	s.logger.Info("Server state changed", "state", st)
	if err := s.broker.Push(mcproto.ServerStateChanged.Name, mcproto.ServerStatus{State: st}); err != nil && !errors.Is(err, broker.ErrShuttingDown) {
		s.logger.Warn("Failed to push state change", "error", err)
	}
}

// Handler returns the HTTP handler serving the control endpoint, metrics and
// health check.
func (s *Server) Handler() http.Handler { return s.mux }

// Broker returns the underlying broker.
func (s *Server) Broker() *broker.Broker { return s.broker }

// Apply takes over the hot-reloadable parts of a reloaded configuration:
// the log level and the simulated durations. Other changes need a restart.
func (s *Server) Apply(cfg *config.ServerConfig) {
	if s.level != nil {
		if l, err := cfg.Level(); err == nil {
			s.level.Set(l)
		}
	}
	if s.sim != nil {
		s.sim.SetDurations(cfg.Controller.BootDuration.Std(), cfg.Controller.ShutdownDuration.Std())
	}
	if cfg.Listen != s.cfg.Listen || cfg.Path != s.cfg.Path || cfg.Controller.Mode != s.cfg.Controller.Mode {
		s.logger.Warn("Listen address, path and controller mode changes take effect after a restart")
	}
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// the broker and the HTTP server.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("mcserver listening", "address", l.Addr().String(), "path", s.cfg.Path)
		serverErr <- httpServer.Serve(l)
	}()

	var err error
	select {
	case err = <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		s.logger.Info("Shutting down mcserver")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if bErr := s.broker.Shutdown(shutdownCtx); bErr != nil {
		s.logger.Error("Broker shutdown error", "error", bErr)
	}
	if hErr := httpServer.Shutdown(shutdownCtx); hErr != nil && err == nil {
		err = hErr
	}
	s.stopController()
	return err
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, l)
}

func (s *Server) stopController() {
	switch c := s.ctrl.(type) {
	case *controller.Sim:
		c.Stop()
	case *controller.Systemctl:
		c.Wait()
	}
}
