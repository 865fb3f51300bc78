package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/ingest"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fx-ingest version %s\n", ingest.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", ingest.GitSHA)
		},
	}
}
