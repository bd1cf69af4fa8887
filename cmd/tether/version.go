package main

import (
	"fmt"

	"github.com/aretw0/tether"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of tether",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tether version %s\n", tether.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
