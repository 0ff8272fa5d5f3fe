// Package main implements a consumer process: it receives task envelopes from
// Kafka, dispatches them to the registered handlers and exits after its
// lifetime, on a signal, or on the first fatal error. A fleet of these is run
// by the supervisor.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/phrazzld/asyncbg/internal/broker"
	"github.com/phrazzld/asyncbg/internal/config"
	"github.com/phrazzld/asyncbg/internal/consumer"
	"github.com/phrazzld/asyncbg/internal/handlers/echo"
	"github.com/phrazzld/asyncbg/internal/platform/backend"
	"github.com/phrazzld/asyncbg/internal/platform/logger"
	"github.com/phrazzld/asyncbg/internal/status"
	"github.com/phrazzld/asyncbg/internal/supervisor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(consumer.ExitCode(run(ctx)))
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return &consumer.FatalError{Err: err}
	}

	level := cfg.Kafka.LogLevel
	if level == "" {
		level = cfg.Server.LogLevel
	}
	log, err := logger.Setup(level)
	if err != nil {
		return &consumer.FatalError{Err: err}
	}
	log = logger.ForConsumer(log, consumerID())

	if !cfg.KafkaEnabled() {
		log.Error("kafka is not configured, consumer cannot start")
		return &consumer.FatalError{Err: fmt.Errorf("kafka.bootstrap_servers and kafka.topic_async_request are required")}
	}

	b, err := backend.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open status backend", "error", err)
		return &consumer.FatalError{Err: err}
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("error closing status backend", "error", err)
		}
	}()

	process := broker.NewProcess(broker.NewKafkaClientFactory(broker.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers(),
		PublishTimeout: cfg.Kafka.PublishTimeout(),
		Logger:         log,
	}))

	return runConsumer(ctx, cfg, process, b.Store, log)
}

// runConsumer registers the handlers and runs the receive loop to completion.
func runConsumer(ctx context.Context, cfg *config.Config, process *broker.Process, store status.Store, log *slog.Logger) error {
	defer func() {
		if err := process.Close(); err != nil {
			log.Warn("error closing broker client", "error", err)
		}
	}()

	router := consumer.NewRouter()
	echo.Register(router, cfg.Kafka.TopicAsyncRequest)

	rt := consumer.New(process, router, store, consumer.Config{
		GroupID:            cfg.Kafka.GroupID,
		AutoOffsetReset:    cfg.Kafka.AutoOffsetReset,
		AutoCommit:         cfg.Kafka.EnableAutoCommit,
		AutoCommitInterval: cfg.Kafka.AutoCommitInterval(),
		Lifetime:           cfg.Kafka.ConsumerLifetime(),
		LifetimeJitter:     cfg.Kafka.ConsumerLifetimeJitter(),
	}, log)

	err := rt.Run(ctx)
	if err != nil {
		log.Error("consumer stopped", "error", err, "exit_code", consumer.ExitCode(err))
		return err
	}

	log.Info("consumer finished")
	return nil
}

// consumerID reads the slot index set by the supervisor, 0 when run standalone.
func consumerID() int {
	id, err := strconv.Atoi(os.Getenv(supervisor.ConsumerIDEnv))
	if err != nil {
		return 0
	}
	return id
}
