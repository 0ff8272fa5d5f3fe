// Package main implements the entry point for the asyncbg API server, which
// enqueues background tasks onto Kafka and serves their status.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/asyncbg/internal/config"
	"github.com/phrazzld/asyncbg/internal/platform/logger"
)

// main is the entry point for the asyncbg server.
// It loads configuration, sets up logging, wires the status store and the
// task producer, and serves HTTP until interrupted.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// run initializes the application and blocks until ctx is cancelled or the
// HTTP server fails.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"status_backend", cfg.Status.Backend,
		"kafka_enabled", cfg.KafkaEnabled())

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	return app.Run(ctx)
}
