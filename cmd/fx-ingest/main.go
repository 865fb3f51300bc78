// Package main is the entry point for the fx-ingest CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/ingest"
)

// Exit statuses.
const (
	exitFailure       = 1
	exitInvalidConfig = 2
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fx-ingest:", err)
		os.Exit(exitCode(err))
	}
}

func rootCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "fx-ingest",
		Short: "Ingest historical FX rates into partitioned object storage",
		Long: `fx-ingest fetches exchange rates for a date range from the exchangerate.host
timeframe endpoint, one month-aligned chunk at a time, and writes each response
as JSON under <output>/year=YYYY/month=MM/.

Running fx-ingest without a subcommand is the same as "fx-ingest run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, f)
		},
	}
	addRunFlags(cmd, &f)
	cmd.SetFlagErrorFunc(flagError)

	cmd.AddCommand(runCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

// flagError marks flag parse failures as configuration errors.
func flagError(cmd *cobra.Command, err error) error {
	return fmt.Errorf("%w: %v", ingest.ErrInvalidConfiguration, err)
}

func exitCode(err error) int {
	if ingest.IsConfigError(err) {
		return exitInvalidConfig
	}
	return exitFailure
}
