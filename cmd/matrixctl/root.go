package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "matrixctl",
		Short:         "Creative matrix tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newMigrateCommand())
	return rootCmd
}
