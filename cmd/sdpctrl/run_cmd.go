package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"pkt.systems/sdpctrl"
	"pkt.systems/sdpctrl/internal/logfields"
)

// newRunCommand runs the control loop in the current process, blocking
// until the context is canceled or (for a non-remain-connected config) one
// keep-alive/credential cycle completes.
func newRunCommand(baseLogger pslog.Logger) *cobra.Command {
	var metricsListen string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the sdp control client in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, level, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Foreground = true

			logger := logfields.WithSubsystem(baseLogger, "cli.run").LogLevel(level)
			metrics := sdpctrl.NewMetrics()
			client, err := sdpctrl.New(cfg, sdpctrl.WithLogger(logger), sdpctrl.WithMetrics(metrics))
			if err != nil {
				return err
			}
			defer client.Close()

			if metricsListen != "" {
				srv, ln, err := startMetricsServer(metricsListen, metrics.Registry(), logfields.WithSubsystem(baseLogger, "cli.run.metrics"))
				if err != nil {
					return err
				}
				defer func() {
					_ = srv.Close()
					_ = ln.Close()
				}()
			}

			_, err = client.Start(cmd.Context())
			return err
		},
	}
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "address to serve Prometheus metrics on (empty disables)")
	return cmd
}
