package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/contextkit/pkg/sidecar"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check sidecar liveness",
	Run: func(cmd *cobra.Command, args []string) {
		sidecarURL, _ := cmd.Flags().GetString("sidecar-url")

		client := sidecar.New(sidecarURL)
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		resp, err := client.Health(ctx)
		if err != nil {
			fmt.Printf("Sidecar unreachable at %s: %v\n", sidecarURL, err)
			os.Exit(1)
		}

		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
