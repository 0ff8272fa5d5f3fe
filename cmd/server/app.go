package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/asyncbg/internal/broker"
	"github.com/phrazzld/asyncbg/internal/channel"
	"github.com/phrazzld/asyncbg/internal/config"
	"github.com/phrazzld/asyncbg/internal/platform/backend"
	"github.com/phrazzld/asyncbg/internal/producer"
)

// purgeInterval is how often expired rows are removed from the postgres backend.
const purgeInterval = time.Minute

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger

	// Status storage
	backend *backend.Backend

	// Task handoff; nil when Kafka is not configured
	registry *broker.Registry
	producer *producer.Producer

	resolver *channel.Resolver

	// contextID identifies the request-serving loop to the broker registry
	contextID broker.ContextID
}

// newApplication creates a new application instance with all dependencies initialized.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:    cfg,
		logger:    logger,
		resolver:  channel.NewResolver(cfg.Auth.JWTSecret),
		contextID: broker.NewContextID(),
	}

	var err error
	app.backend, err = backend.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.KafkaEnabled() {
		app.registry = broker.NewRegistry(broker.NewKafkaClientFactory(broker.KafkaConfig{
			Brokers:        cfg.Kafka.Brokers(),
			PublishTimeout: cfg.Kafka.PublishTimeout(),
			Logger:         logger,
		}), logger)
		app.producer = producer.New(app.registry, app.backend.Store, logger)
		logger.Info("Task producer initialized",
			"bootstrap_servers", cfg.Kafka.BootstrapServers,
			"topic", cfg.Kafka.TopicAsyncRequest)
	} else {
		logger.Warn("Kafka is not configured, task enqueue is disabled")
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	if app.backend.Purger != nil {
		go app.backend.Purger.RunPurger(ctx, purgeInterval)
	}

	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.registry != nil {
		if err := app.registry.Close(); err != nil {
			app.logger.Error("Error closing broker clients", "error", err)
		}
	}

	if app.backend != nil {
		if err := app.backend.Close(); err != nil {
			app.logger.Error("Error closing status backend", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
