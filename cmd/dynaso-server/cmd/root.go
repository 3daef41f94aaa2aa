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
	"github.com/oshokin/dynaso/internal/service/server"
	"github.com/oshokin/dynaso/internal/version"
)

var (
	// logLevel selects the minimum level of printed log lines.
	logLevel string
	// options collects the configuration path and its overrides.
	options server.Options

	// rootCmd represents the base command for running the storage and registry server.
	rootCmd = &cobra.Command{
		Use:   "dynaso-server",
		Short: "Run the archive storage and dedup registry server",
		Long: `Serves archive uploads (POST /api/upload) and downloads (GET /api/download/<filename>)
over HTTP and answers dedup registry lookups over gRPC.

Every uploaded archive is verified against its package info and registered by
library, version, architecture and digest. The registry index is persisted to a
JSON file for recovery across restarts.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return server.Run(ctx, &options)
		},
	}
)

// Execute runs the dynaso-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.Flags()
	flags.StringVarP(&options.ConfigPath, "config", "c", config.DefaultServerConfigFilename, "path to configuration file")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&options.HTTPAddress, "http-addr", "", "listen address of the storage endpoints")
	flags.StringVar(&options.GRPCAddress, "grpc-addr", "", "listen address of the registry service")
	flags.StringVar(&options.StorageDir, "storage-dir", "", "directory holding uploaded archives")
	flags.StringVar(&options.IndexFile, "index-file", "", "path of the registry index")
	flags.StringVar(&options.PublicURL, "public-url", "", "base URL advertised in download locators")
}
