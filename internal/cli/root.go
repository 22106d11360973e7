// Package cli implements the mcctl command line client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightforgemedia/go-mcremote/pkg/client"
	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
)

// DefaultURL is the endpoint of a local mcserver.
var DefaultURL = fmt.Sprintf("ws://localhost:%d%s", mcproto.DefaultPort, mcproto.DefaultPath)

type globalFlags struct {
	url       string
	timeout   time.Duration
	reconnect bool
	jsonOut   bool
	logLevel  string
}

// NewRootCmd builds the mcctl command tree writing results to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "mcctl",
		Short: "Control a game server through its mcserver endpoint",
		Long: `mcctl talks to an mcserver endpoint over WebSocket.

Examples:
  mcctl status                       Show the server state
  mcctl boot                         Turn the server on
  mcctl shutdown                     Turn the server off
  mcctl watch                        Print state changes as they happen
  mcctl --url wss://host/horsney status`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.url, "url", DefaultURL, "Endpoint URL (ws:// or wss://)")
	pf.DurationVar(&flags.timeout, "timeout", client.DefaultCallTimeout, "Per-call timeout")
	pf.BoolVar(&flags.reconnect, "reconnect", true, "Reconnect after the connection drops")
	pf.BoolVar(&flags.jsonOut, "json", false, "Output as JSON")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		callCmd("status", "Show the server state", mcproto.McServerStatus, flags),
		callCmd("boot", "Turn the server on", mcproto.BootServer, flags),
		callCmd("shutdown", "Turn the server off", mcproto.ShutdownServer, flags),
		watchCmd(flags),
	)
	return root
}

// Execute runs mcctl and exits non-zero on error.
func Execute() {
	root := NewRootCmd(os.Stdout)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (f *globalFlags) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// open dials the endpoint and waits until the channel is open or the call
// timeout elapses.
func (f *globalFlags) open(ctx context.Context) (*client.Channel, error) {
	logger, err := f.logger()
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	ch, err := client.Dial(dialCtx, f.url,
		client.WithLogger(logger),
		client.WithDefaultTimeout(f.timeout),
		client.WithAutoReconnect(f.reconnect),
	)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func printStatus(out io.Writer, jsonOut bool, st mcproto.ServerStatus) error {
	if jsonOut {
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	_, err := fmt.Fprintln(out, st.State)
	return err
}
