// Package cli implements the mlpipe command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dcshock/mlpipe/config"
	"github.com/dcshock/mlpipe/logging"
	"github.com/dcshock/mlpipe/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is the mlpipe release.
const Version = "0.1.0"

// rootOptions holds the global flags and the hooks tests replace.
type rootOptions struct {
	profile      string
	settingsPath string
	logFile      string
	metricsAddr  string
	debug        bool

	modules   *config.ModuleRegistry // nil: the registry filled by config.RegisterModule
	openStore storeOpener

	metrics *metrics.Server
}

func (o *rootOptions) loadModule(ref string) (*config.Module, error) {
	if o.modules != nil {
		return o.modules.Load(ref)
	}
	return config.LoadModule(ref)
}

// NewRootCmd returns the mlpipe command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{openStore: openStore})
}

func newRootCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mlpipe",
		Short:         "Build, run and inspect ML pipelines.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "info"
			if o.debug {
				level = "debug"
			}
			logging.Init(logging.Config{Level: level, Format: "console", FilePath: o.logFile, MaxSize: 10, MaxBackups: 3})
			if o.metricsAddr != "" {
				o.metrics = metrics.NewServer(o.metricsAddr)
				o.metrics.Start()
				logging.L().Debug("serving metrics", zap.String("addr", o.metricsAddr))
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			defer logging.Sync()
			if o.metrics == nil {
				return nil
			}
			if err := o.metrics.Err(); err != nil {
				logging.L().Warn("metrics server failed", zap.Error(err))
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return o.metrics.Shutdown(ctx)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.profile, "profile", "", "Profile to use (default: $MLPIPE_PROFILE or the active profile).")
	flags.StringVar(&o.settingsPath, "settings", "", "Settings file (default: $MLPIPE_SETTINGS or the user config dir).")
	flags.BoolVar(&o.debug, "debug", false, "Enable debug logging.")
	flags.StringVar(&o.logFile, "log-file", "", "Also write JSON logs to this file, rotated.")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs, e.g. :9090.")

	cmd.AddCommand(newPipelineCmd(o))
	return cmd
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
