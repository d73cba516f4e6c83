package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"pkt.systems/sdpctrl"
	"pkt.systems/sdpctrl/internal/logfields"
)

func newStatusCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "report whether the sdp control client daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, level, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := logfields.WithSubsystem(baseLogger, "cli.status").LogLevel(level)
			client, err := sdpctrl.New(cfg, sdpctrl.WithLogger(logger))
			if err != nil {
				return err
			}

			running, pid, err := client.Status()
			if err != nil {
				return err
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "sdp control client is not running")
				return nil
			}

			out := fmt.Sprintf("sdp control client is running (pid=%d)", pid)
			if info, statErr := os.Stat(cfg.PIDFile); statErr == nil {
				out += fmt.Sprintf(", since %s", humanize.Time(info.ModTime()))
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
