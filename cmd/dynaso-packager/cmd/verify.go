package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/dynaso/internal/archive"
)

// verifyCmd checks archives against their embedded package-info.
var verifyCmd = &cobra.Command{
	Use:   "verify <archive>...",
	Short: "Verify archives against their package info",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			record, err := archive.Verify(path)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n%s\n", path, data)
		}

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(verifyCmd)
}
