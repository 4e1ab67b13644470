package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/device-update-agent/internal/config"
	"github.com/oshokin/device-update-agent/internal/logger"
	"github.com/oshokin/device-update-agent/internal/service/agent"
	"github.com/oshokin/device-update-agent/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// logLevel overrides the default logging level.
	logLevel string

	// rootCmd represents the base command: one engine activation, the way
	// the boot hook invokes it.
	rootCmd = &cobra.Command{
		Use:   "update-agent",
		Short: "Keep the target application installed and current",
		Long: "update-agent checks whether the target application is installed and current " +
			"and, if not, downloads, verifies and installs the latest build unattended.",
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			applyLogLevel()

			options := &agent.Options{
				ConfigPath: configPath,
			}

			return agent.Run(ctx, options)
		},
	}
)

// Execute runs the update-agent CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyLogLevel configures the global logger from the --log-level flag.
func applyLogLevel() {
	if logLevel == "" {
		return
	}

	if level, ok := logger.ParseLogLevel(logLevel); ok {
		logger.SetLevel(level)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(
		&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(
		&logLevel, "log-level", "l", "", "logging level (debug, info, warn, error)")
}
