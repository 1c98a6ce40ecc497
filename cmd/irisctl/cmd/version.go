package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "irisctl %s\n", appVersion)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", appCommit)
		},
	}
}
