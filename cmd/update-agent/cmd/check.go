package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/device-update-agent/internal/config"
	"github.com/oshokin/device-update-agent/internal/logger"
	"github.com/oshokin/device-update-agent/internal/registry"
	"github.com/oshokin/device-update-agent/internal/resolver"
)

// checkCmd reports whether an update is available without changing anything.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report installed and remote build numbers without installing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := logger.WithName(cmd.Context(), "update-agent")

		applyLogLevel()

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		return runCheck(ctx, cmd, cfg)
	},
}

// runCheck fetches the manifest, reads the registry and prints the verdict.
func runCheck(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	manifest, err := resolver.New(cfg.HTTPTimeout).FetchManifest(ctx, cfg.ManifestURL)
	if err != nil {
		return fmt.Errorf("fetch manifest: %w", err)
	}

	installedBuild, installed, err := registry.NewCommandReader(cfg.InstalledVersionCommand).InstalledBuild(ctx)
	if err != nil {
		return fmt.Errorf("read installed build: %w", err)
	}

	out := cmd.OutOrStdout()

	if !installed {
		_, _ = fmt.Fprintf(out, "installed: none, remote: %d, update available\n", manifest.BuildNumber)
		return nil
	}

	verdict := "up to date"
	if installedBuild < manifest.BuildNumber {
		verdict = "update available"
	}

	_, _ = fmt.Fprintf(out, "installed: %d, remote: %d, %s\n",
		installedBuild, manifest.BuildNumber, verdict)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(checkCmd)
}
