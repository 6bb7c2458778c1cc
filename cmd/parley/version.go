package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the parley version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), parley.Version)
		},
	}
}
