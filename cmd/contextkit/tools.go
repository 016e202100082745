package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/contextkit/pkg/capability"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the capability manifest's tool catalog",
	Run: func(cmd *cobra.Command, args []string) {
		manifest, _ := cmd.Flags().GetString("manifest")

		var registry *capability.Registry
		var err error
		if manifest != "" {
			registry, err = capability.LoadManifest(manifest)
		} else {
			registry, err = capability.New(capability.DefaultManifest())
		}
		if err != nil {
			fmt.Printf("Error loading manifest: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Profile: %s\n\n", registry.ProfileID())
		for _, tool := range registry.Tools() {
			providers := "all providers"
			if len(tool.AllowedProviders) > 0 {
				names := make([]string, len(tool.AllowedProviders))
				for i, p := range tool.AllowedProviders {
					names[i] = string(p)
				}
				providers = strings.Join(names, ", ")
			}
			fmt.Printf("%-24s %-12s %s\n", tool.ID, tool.SafetyClass, providers)
		}
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
