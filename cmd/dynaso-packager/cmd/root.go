package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/dynaso/internal/config"
	"github.com/oshokin/dynaso/internal/logger"
	"github.com/oshokin/dynaso/internal/service/packager"
	"github.com/oshokin/dynaso/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel selects the minimum level of printed log lines.
	logLevel string
	// runOptions collects the command line overrides of a pipeline run.
	runOptions packager.Options

	// rootCmd represents the base command for offloading native libraries.
	rootCmd = &cobra.Command{
		Use:   "dynaso-packager [library...]",
		Short: "Offload native libraries of a build to remote storage",
		Long: `Packages every configured native library per architecture, uploads the archives,
writes the manifests into the assets tree and removes the original binaries once
every architecture of a library is confirmed to be hosted.

Pipeline errors leave the binaries in place and do not fail the command unless
--strict is given. Library names given as arguments restrict the run.`,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := runOptions
			options.ConfigPath = configPath
			options.Libraries = args

			return packager.Run(ctx, &options)
		},
	}
)

// Execute runs the dynaso-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	flags := rootCmd.Flags()
	flags.StringVar(&runOptions.OutputDir, "output-dir", "", "merged native libraries directory")
	flags.StringVar(&runOptions.AssetsDir, "assets-dir", "", "directory receiving the manifests")
	flags.StringVar(&runOptions.UploadURL, "upload-url", "", "storage base URL")
	flags.StringVar(&runOptions.RegistryAddress, "registry", "", "dedup registry gRPC address")
	flags.StringVar(&runOptions.Digest, "digest", "", "digest algorithm: md5, sha256 or blake3")
	flags.BoolVar(&runOptions.Strict, "strict", false, "fail when any library could not be offloaded")
	flags.BoolVar(&runOptions.KeepArchives, "keep-archives", false, "keep uploaded archives in the work directory")
}
