// Package main implements the consumer supervisor: it keeps a fixed number of
// consumer processes running, relaunching each one when it exits.
//
// Usage:
//
//	supervisor [--consumers-count N] [--restart-delay-sec S] [--max-restarts M] [--consumer-path PATH]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/phrazzld/asyncbg/internal/config"
	"github.com/phrazzld/asyncbg/internal/platform/logger"
	"github.com/phrazzld/asyncbg/internal/supervisor"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// consumerBinary is looked up next to the supervisor when no path is given.
const consumerBinary = "consumer"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("supervisor failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	v := viper.New()
	if err := bindFlags(v, args); err != nil {
		return err
	}

	cfg, err := config.LoadWith(v)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	path, err := consumerPath(cfg.Supervisor.ConsumerPath)
	if err != nil {
		return err
	}

	log.Info("supervisor starting",
		"consumers_count", cfg.Supervisor.ConsumersCount,
		"restart_delay_sec", cfg.Supervisor.RestartDelaySec,
		"max_restarts", cfg.Supervisor.MaxRestarts,
		"consumer_path", path)

	sup := supervisor.New(supervisorConfig(cfg.Supervisor), &supervisor.ExecLauncher{
		Path:   path,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: log,
	}, log)

	return sup.Run(ctx)
}

// bindFlags parses the command line into v. Flags override environment and
// config file values only when given explicitly.
func bindFlags(v *viper.Viper, args []string) error {
	flags := pflag.NewFlagSet("supervisor", pflag.ContinueOnError)
	flags.Int("consumers-count", 15, "number of consumer processes to keep running")
	flags.Float64("restart-delay-sec", 1.0, "seconds to wait before restarting an exited consumer")
	flags.Int("max-restarts", -1, "restarts allowed per consumer slot; negative means unlimited")
	flags.String("consumer-path", "", "consumer binary; defaults to \""+consumerBinary+"\" next to this executable")

	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	bindings := map[string]string{
		"supervisor.consumers_count":   "consumers-count",
		"supervisor.restart_delay_sec": "restart-delay-sec",
		"supervisor.max_restarts":      "max-restarts",
		"supervisor.consumer_path":     "consumer-path",
	}
	for key, name := range bindings {
		f := flags.Lookup(name)
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}

	return nil
}

// supervisorConfig converts the configuration group into supervisor settings.
func supervisorConfig(cfg config.SupervisorConfig) supervisor.Config {
	return supervisor.Config{
		ConsumersCount: cfg.ConsumersCount,
		RestartDelay:   cfg.RestartDelay(),
		MaxRestarts:    cfg.MaxRestarts,
	}
}

// consumerPath resolves the consumer binary location.
func consumerPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate supervisor executable: %w", err)
	}
	return filepath.Join(filepath.Dir(self), consumerBinary), nil
}
