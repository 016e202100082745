package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/contextkit"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of contextkit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("contextkit version %s\n", contextkit.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
