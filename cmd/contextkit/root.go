package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "contextkit",
	Short: "Contextkit is a safety-gated orchestration service for AI tooling",
	Long: `Contextkit sits between your application and an AI sidecar, enforcing
capability allowlists, safety approvals and per-session concurrency limits on
every tool invocation.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("sidecar-url", "http://localhost:8000", "Base URL of the AI sidecar")
	rootCmd.PersistentFlags().String("manifest", "", "Path to a capability manifest YAML (defaults to the built-in profile)")
	rootCmd.PersistentFlags().String("repo-path", ".", "Repository path attached to tool executions")
}
