package main

// Package main is the entry point for the enrolytics command.
//
// Responsibilities:
//   - Load and validate configuration from YAML, environment variables, and CLI flags
//   - Run batch analysis: load input tables, execute the three detectors,
//     build the consensus report, write CSV exports, persist the run
//   - Serve stored results: REST API, WebSocket run-event feed, Prometheus
//     metrics, health and readiness endpoints
//   - Implement graceful shutdown with context cancellation
//
// Commands:
//   - run          one batch analysis over the configured input tables
//   - serve        result server on the configured host:port
//   - config show  effective configuration after all sources merge
//   - version      build information
//
// Graceful Shutdown (serve):
//   - SIGINT/SIGTERM cancels the command context
//   - In-flight requests get the shutdown timeout to finish
//   - WebSocket subscribers are disconnected
//   - The result store is closed and audit entries are flushed

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/enrolytics/enrolytics/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
