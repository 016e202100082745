package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/contextkit"
	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/internal/presentation/tui"
	fileAdapter "github.com/aretw0/contextkit/pkg/adapters/file"
	httpAdapter "github.com/aretw0/contextkit/pkg/adapters/http"
	"github.com/aretw0/contextkit/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/contextkit/pkg/adapters/redis"
	"github.com/aretw0/contextkit/pkg/orchestrator"
	"github.com/aretw0/contextkit/pkg/queue"
	"github.com/aretw0/contextkit/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration HTTP server",
	Long:  `Starts the contextkit orchestrator in server mode, exposing the session, tool and streaming API over HTTP.`,
	Run: func(cmd *cobra.Command, args []string) {
		sidecarURL, _ := cmd.Flags().GetString("sidecar-url")
		manifest, _ := cmd.Flags().GetString("manifest")
		repoPath, _ := cmd.Flags().GetString("repo-path")
		port, _ := cmd.Flags().GetString("port")
		redisURL, _ := cmd.Flags().GetString("redis-url")
		sessionDir, _ := cmd.Flags().GetString("session-dir")
		debug, _ := cmd.Flags().GetBool("debug")

		if term.IsTerminal(int(os.Stdout.Fd())) {
			tui.PrintBanner(contextkit.Version)
		}

		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		logger := logging.NewJSON(level)

		reg := prometheus.NewRegistry()
		metrics := telemetry.NewMetrics(reg)
		recorder := telemetry.NewRecorder(memory.NewRecordStore(),
			telemetry.WithMetrics(metrics),
			telemetry.WithLogger(logger),
		)

		opts := []contextkit.Option{
			contextkit.WithLogger(logger),
			contextkit.WithRepoPath(repoPath),
			contextkit.WithAPIKey(os.Getenv("CONTEXTKIT_API_KEY")),
			contextkit.WithOrchestratorOptions(
				orchestrator.WithRecorder(recorder),
				orchestrator.WithQueue(queue.NewManager(
					queue.WithObserver(metrics.QueueDepth),
					queue.WithLogger(logger),
				)),
			),
		}
		if manifest != "" {
			opts = append(opts, contextkit.WithManifestPath(manifest))
		}
		switch {
		case redisURL != "":
			password := os.Getenv("CONTEXTKIT_REDIS_PASSWORD")
			store := redisAdapter.NewSessionStore(redisURL, password, 0)
			defer store.Close()
			opts = append(opts, contextkit.WithSessionStore(store))
		case sessionDir != "":
			opts = append(opts, contextkit.WithSessionStore(fileAdapter.New(sessionDir)))
		}

		kit, err := contextkit.New(sidecarURL, opts...)
		if err != nil {
			fmt.Printf("Error initializing contextkit: %v\n", err)
			os.Exit(1)
		}
		defer kit.Close()

		handler := httpAdapter.NewHandler(kit.Orchestrator(), kit.Sessions(),
			httpAdapter.WithMetricsRegistry(reg),
			httpAdapter.WithLogger(logger),
		)

		srv := &http.Server{
			Addr:    ":" + port,
			Handler: handler,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			fmt.Printf("Starting Contextkit Server on %s\n", srv.Addr)
			fmt.Printf("Forwarding to sidecar at: %s\n", sidecarURL)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// Blocking main and waiting for shutdown.
		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Printf("Error killing server: %v\n", err)
				}
			}
			fmt.Println("Contextkit Server stopped gracefully")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	serveCmd.Flags().String("redis-url", "", "Redis URL for session persistence (defaults to in-memory)")
	serveCmd.Flags().String("session-dir", "", "Directory for file-based session persistence (ignored when --redis-url is set)")
	serveCmd.Flags().Bool("debug", false, "Enable debug logging")
}
