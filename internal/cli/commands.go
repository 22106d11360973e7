package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightforgemedia/go-mcremote/pkg/client"
	"github.com/lightforgemedia/go-mcremote/pkg/ergosockets"
	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
)

func callCmd(use, short string, call ergosockets.Call[mcproto.Empty, mcproto.ServerStatus], flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer ch.Close()

			st := client.Do(cmd.Context(), ch, call, mcproto.Empty{})
			v, err := st.Result()
			if err != nil {
				return fmt.Errorf("%s: %w", call.Name, err)
			}
			return printStatus(cmd.OutOrStdout(), flags.jsonOut, v)
		},
	}
}

func watchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print state changes as they happen",
		Long: `watch prints the current state, then one line per state change until
interrupted. With --reconnect (the default) it survives endpoint restarts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ch, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer ch.Close()

			out := cmd.OutOrStdout()
			changes := make(chan mcproto.ServerStatus, 16)
			sub := client.Subscribe(ch, mcproto.ServerStateChanged, func(st mcproto.ServerStatus) {
				select {
				case changes <- st:
				default:
				}
			})
			defer sub.Cancel()

			st := client.Do(ctx, ch, mcproto.McServerStatus, mcproto.Empty{})
			v, err := st.Result()
			if err != nil {
				return fmt.Errorf("%s: %w", mcproto.McServerStatus.Name, err)
			}
			if err := printStatus(out, flags.jsonOut, v); err != nil {
				return err
			}

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case st := <-changes:
					if err := printStatus(out, flags.jsonOut, st); err != nil {
						return err
					}
				case <-ticker.C:
					if ch.State() == client.StateClosed && !flags.reconnect {
						return errors.New("connection closed")
					}
				}
			}
		},
	}
}
