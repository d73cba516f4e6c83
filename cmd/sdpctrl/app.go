package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/pslog"

	"pkt.systems/sdpctrl"
	"pkt.systems/sdpctrl/internal/logfields"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("SDPCTRL_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "sdpctrl")

	cmd := newRootCommand(baseLogger)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			logfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func loadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	return sdpctrl.LoadConfigFile(path)
}

// Config is aliased locally so the CLI package doesn't need to qualify
// sdpctrl.Config at every call site below.
type Config = sdpctrl.Config

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sdpctrl",
		Short:         "sdpctrl maintains an SDP control-plane session with a controller, rotating TLS and SPA credentials in place",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Run in the foreground against a controller, using a config file
  sdpctrl run --config ~/.sdpctrl/client.conf

  # Start as a background daemon
  sdpctrl start --config ~/.sdpctrl/client.conf

  # Check whether the daemon is alive
  sdpctrl status --config ~/.sdpctrl/client.conf --pid-file /var/run/sdpctrl.pid
`,
	}

	persistent := cmd.PersistentFlags()
	persistent.StringP("config", "c", "", "path to the sdp control client config file")
	persistent.String("pid-file", "", "override PID_FILE from the config file")
	persistent.String("log-level", "info", "log level (debug, info, warn, error)")

	viper.SetEnvPrefix("SDPCTRL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"config", "pid-file", "log-level"} {
		if err := viper.BindPFlag(name, persistent.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newRunCommand(baseLogger))
	cmd.AddCommand(newStartCommand(baseLogger))
	cmd.AddCommand(newStopCommand(baseLogger))
	cmd.AddCommand(newRestartCommand(baseLogger))
	cmd.AddCommand(newStatusCommand(baseLogger))

	return cmd
}

// resolveConfig loads the config file named by --config (or SDPCTRL_CONFIG)
// and applies the --pid-file/--log-level overrides that make sense to set
// per-invocation rather than only from the file.
func resolveConfig(cmd *cobra.Command) (Config, pslog.Level, error) {
	cfgPath, err := expandPath(strings.TrimSpace(viper.GetString("config")))
	if err != nil {
		return Config{}, pslog.NoLevel, fmt.Errorf("expand --config: %w", err)
	}

	cfg, err := loadConfigFile(cfgPath)
	if err != nil {
		return Config{}, pslog.NoLevel, err
	}
	if cfgPath != "" {
		cfg.ConfigFile = cfgPath
	}

	if pidFile := strings.TrimSpace(viper.GetString("pid-file")); pidFile != "" {
		cfg.PIDFile = pidFile
	}

	level, ok := pslog.ParseLevel(strings.TrimSpace(viper.GetString("log-level")))
	if !ok {
		level = pslog.InfoLevel
	}

	return cfg, level, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}
