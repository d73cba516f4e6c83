package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"pkt.systems/sdpctrl"
	"pkt.systems/sdpctrl/internal/logfields"
)

// newStartCommand daemonizes the client via a self re-exec and returns as
// soon as the child process has started, without waiting for it to acquire
// the PID-file lock.
func newStartCommand(baseLogger pslog.Logger) *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the sdp control client as a background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, level, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Foreground = foreground

			logger := logfields.WithSubsystem(baseLogger, "cli.start").LogLevel(level)
			client, err := sdpctrl.New(cfg, sdpctrl.WithLogger(logger))
			if err != nil {
				return err
			}

			pid, err := client.Start(cmd.Context())
			if err != nil {
				return err
			}
			if !cfg.Foreground {
				fmt.Fprintf(cmd.OutOrStdout(), "started sdp control client (pid=%d)\n", pid)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run in the foreground instead of daemonizing")
	return cmd
}
