// Package config loads the mcserver configuration file. YAML and TOML are
// both accepted; the format is picked from the file extension.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
)

// Controller modes.
const (
	ModeSim       = "sim"
	ModeSystemctl = "systemctl"
)

// ServerConfig is the root configuration of the mcserver binary.
type ServerConfig struct {
	Listen      string           `yaml:"listen" toml:"listen"`
	Path        string           `yaml:"path" toml:"path"`
	MetricsPath string           `yaml:"metrics_path" toml:"metrics_path"`
	LogLevel    string           `yaml:"log_level" toml:"log_level"`
	Controller  ControllerConfig `yaml:"controller" toml:"controller"`
	Broker      BrokerConfig     `yaml:"broker" toml:"broker"`
}

// ControllerConfig selects and tunes the game server controller.
type ControllerConfig struct {
	Mode             string   `yaml:"mode" toml:"mode"`
	Unit             string   `yaml:"unit" toml:"unit"`
	RefreshInterval  Duration `yaml:"refresh_interval" toml:"refresh_interval"`
	BootDuration     Duration `yaml:"boot_duration" toml:"boot_duration"`
	ShutdownDuration Duration `yaml:"shutdown_duration" toml:"shutdown_duration"`
}

// BrokerConfig tunes the WebSocket endpoint.
type BrokerConfig struct {
	SendBuffer     int      `yaml:"send_buffer" toml:"send_buffer"`
	WriteTimeout   Duration `yaml:"write_timeout" toml:"write_timeout"`
	PingInterval   Duration `yaml:"ping_interval" toml:"ping_interval"`
	RequestRate    float64  `yaml:"request_rate" toml:"request_rate"`
	RequestBurst   int      `yaml:"request_burst" toml:"request_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// DefaultServerConfig returns the configuration used when no file is given.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:      fmt.Sprintf(":%d", mcproto.DefaultPort),
		Path:        mcproto.DefaultPath,
		MetricsPath: "/metrics",
		LogLevel:    "info",
		Controller: ControllerConfig{
			Mode:             ModeSim,
			Unit:             "mc_server.service",
			RefreshInterval:  Duration(5 * time.Second),
			BootDuration:     Duration(5 * time.Second),
			ShutdownDuration: Duration(5 * time.Second),
		},
		Broker: BrokerConfig{
			SendBuffer:   16,
			WriteTimeout: Duration(10 * time.Second),
			PingInterval: Duration(30 * time.Second),
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultServerConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validate(cfg *ServerConfig) error {
	if cfg.Listen == "" {
		return errors.New("listen is required")
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", cfg.Path)
	}
	if cfg.MetricsPath != "" && !strings.HasPrefix(cfg.MetricsPath, "/") {
		return fmt.Errorf("metrics_path must start with '/', got %q", cfg.MetricsPath)
	}
	if cfg.MetricsPath == cfg.Path {
		return errors.New("metrics_path and path must differ")
	}
	if _, err := cfg.Level(); err != nil {
		return err
	}

	switch cfg.Controller.Mode {
	case ModeSim:
		if cfg.Controller.BootDuration <= 0 || cfg.Controller.ShutdownDuration <= 0 {
			return errors.New("controller durations must be positive")
		}
	case ModeSystemctl:
		if cfg.Controller.Unit == "" {
			return errors.New("controller.unit is required in systemctl mode")
		}
		if cfg.Controller.RefreshInterval < 0 {
			return errors.New("controller.refresh_interval must be non-negative")
		}
	default:
		return fmt.Errorf("controller.mode must be %q or %q, got %q", ModeSim, ModeSystemctl, cfg.Controller.Mode)
	}

	if cfg.Broker.SendBuffer < 0 {
		return errors.New("broker.send_buffer must be non-negative")
	}
	if cfg.Broker.WriteTimeout < 0 {
		return errors.New("broker.write_timeout must be non-negative")
	}
	if cfg.Broker.RequestRate < 0 {
		return errors.New("broker.request_rate must be non-negative")
	}
	if cfg.Broker.RequestRate > 0 && cfg.Broker.RequestBurst <= 0 {
		return errors.New("broker.request_burst must be positive when request_rate is set")
	}
	return nil
}

// Validate checks a configuration assembled outside Load, for instance after
// command line overrides.
func (c *ServerConfig) Validate() error {
	if err := validate(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Level parses LogLevel.
func (c *ServerConfig) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Duration is a time.Duration written as a string such as "5s" in both
// YAML and TOML files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText is used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	if err := d.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}
