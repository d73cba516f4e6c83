package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"pkt.systems/sdpctrl"
	"pkt.systems/sdpctrl/internal/logfields"
)

func newStopCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "stop a running sdp control client daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, level, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := logfields.WithSubsystem(baseLogger, "cli.stop").LogLevel(level)
			client, err := sdpctrl.New(cfg, sdpctrl.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := client.Stop(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sdp control client stopped")
			return nil
		},
	}
}
