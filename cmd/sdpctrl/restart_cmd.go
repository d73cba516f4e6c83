package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"pkt.systems/sdpctrl"
	"pkt.systems/sdpctrl/internal/logfields"
)

func newRestartCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "signal a running daemon to reload its config file in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, level, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := logfields.WithSubsystem(baseLogger, "cli.restart").LogLevel(level)
			client, err := sdpctrl.New(cfg, sdpctrl.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := client.Restart(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sdp control client signaled to restart")
			return nil
		},
	}
}
