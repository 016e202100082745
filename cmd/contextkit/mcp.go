package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/contextkit"
	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/pkg/adapters/mcp"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the contextkit orchestrator as an MCP Server.
This allows AI agents (like Claude Desktop) to run gated sidecar tools and
assistant streams through the safety and admission pipeline.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Run: func(cmd *cobra.Command, args []string) {
		sidecarURL, _ := cmd.Flags().GetString("sidecar-url")
		manifest, _ := cmd.Flags().GetString("manifest")
		repoPath, _ := cmd.Flags().GetString("repo-path")
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")

		// Logs go to Stderr so they cannot corrupt JSON-RPC on Stdout.
		logger := logging.New(slog.LevelInfo)
		slog.SetDefault(logger)

		opts := []contextkit.Option{
			contextkit.WithLogger(logger),
			contextkit.WithRepoPath(repoPath),
			contextkit.WithAPIKey(os.Getenv("CONTEXTKIT_API_KEY")),
		}
		if manifest != "" {
			opts = append(opts, contextkit.WithManifestPath(manifest))
		}

		kit, err := contextkit.New(sidecarURL, opts...)
		if err != nil {
			log.Fatalf("Error initializing contextkit: %v", err)
		}
		defer kit.Close()

		srv := mcp.NewServer(kit.Orchestrator(), kit.Sessions())

		switch transport {
		case "stdio":
			log.SetOutput(os.Stderr)
			slog.Info("Starting Contextkit MCP Server (Stdio)...")
			if err := srv.ServeStdio(); err != nil {
				slog.Error("MCP Server execution failed", "error", err)
				os.Exit(1)
			}
		case "sse":
			slog.Info("Starting Contextkit MCP Server (SSE)", "port", port)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.ServeSSE(ctx, port); err != nil {
				// Ignore server closed error if it was caused by context cancellation
				if err != http.ErrServerClosed {
					slog.Error("MCP Server execution failed", "error", err)
					os.Exit(1)
				}
			}
			slog.Info("MCP Server stopped gracefully")
		default:
			log.Fatalf("Unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8080, "Port to listen on (only for SSE)")
}
