package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/dynaso/internal/service/restore"
)

// restoreOptions collects the command line overrides of a restore.
var restoreOptions restore.Options

// restoreCmd downloads stripped binaries back into the build output.
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore offloaded native libraries from their manifests",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		options := restoreOptions
		options.ConfigPath = configPath

		_, err := restore.Run(ctx, &options)

		return err
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	restoreCmd.Flags().StringVar(&restoreOptions.OutputDir, "output-dir", "", "directory to restore binaries into")
	restoreCmd.Flags().StringVar(&restoreOptions.AssetsDir, "assets-dir", "", "directory holding the manifests")

	rootCmd.AddCommand(restoreCmd)
}
