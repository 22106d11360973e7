// mcserver serves the game server remote control endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lightforgemedia/go-mcremote/internal/config"
	"github.com/lightforgemedia/go-mcremote/internal/mcserver"
)

var (
	version = "dev"

	configPath string
	listenAddr string
	logLevel   string
	mode       string
	noWatch    bool
)

var rootCmd = &cobra.Command{
	Use:   "mcserver",
	Short: "Remote control endpoint for a game server",
	Long: `mcserver accepts WebSocket connections and lets clients query, boot and
shut down the game server. State changes are pushed to every client.

Examples:
  mcserver                           Simulated server on :2345
  mcserver -c /etc/mcserver.yaml     Use a config file (reloaded on change)
  mcserver --mode systemctl          Drive mc_server.service`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address, overrides the config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&mode, "mode", "", "Controller mode (sim or systemctl)")
	rootCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the config file on change")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newLogger(level *slog.LevelVar) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					a.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return a
		},
	})
	return slog.New(handler)
}

func loadConfig() (*config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if mode != "" {
		cfg.Controller.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	l, _ := cfg.Level()
	level.Set(l)
	logger := newLogger(level)
	slog.SetDefault(logger)

	srv, err := mcserver.New(cfg, logger, mcserver.WithLevel(level))
	if err != nil {
		return err
	}

	if configPath != "" && !noWatch {
		w, err := config.Watch(configPath, logger, 0, func(reloaded *config.ServerConfig) {
			// Flags keep precedence over the file.
			if logLevel != "" {
				reloaded.LogLevel = logLevel
			}
			srv.Apply(reloaded)
		})
		if err != nil {
			logger.Warn("Config reload disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}
