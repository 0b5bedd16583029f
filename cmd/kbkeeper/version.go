package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kk-code-lab/kbkeeper/internal/app"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "kbkeeper %s (commit %s)\n", app.Version, app.BuildCommit)
			return err
		},
	}
}
