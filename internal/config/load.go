package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "ASYNCBG"

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith is Load on a caller-provided viper instance, which lets commands
// bind their own flags before values are resolved.
func LoadWith(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Config file is optional
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Configure environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind keys so Unmarshal sees them even without a config file
	for _, key := range boundKeys {
		envVar := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envVar); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	switch cfg.Status.Backend {
	case StatusBackendRedis:
		if cfg.Redis.URL == "" {
			return errors.New("configuration validation failed: redis.url is required for the redis status backend")
		}
	case StatusBackendPostgres:
		if cfg.Database.URL == "" {
			return errors.New("configuration validation failed: database.url is required for the postgres status backend")
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.enable_auto_commit", false)
	v.SetDefault("kafka.auto_commit_interval_ms", 10000)
	v.SetDefault("kafka.publish_timeout_sec", 10)
	v.SetDefault("kafka.consumer_lifetime_sec", 0)
	v.SetDefault("kafka.consumer_lifetime_jitter_sec", 0)
	v.SetDefault("kafka.log_level", "info")

	v.SetDefault("status.backend", StatusBackendRedis)
	v.SetDefault("status.response_hold_sec", 86400)

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("supervisor.consumers_count", 15)
	v.SetDefault("supervisor.restart_delay_sec", 1.0)
	v.SetDefault("supervisor.max_restarts", -1)
}

// boundKeys lists every key that may come from the environment.
var boundKeys = []string{
	"server.port",
	"server.log_level",
	"kafka.bootstrap_servers",
	"kafka.topic_async_request",
	"kafka.group_id",
	"kafka.auto_offset_reset",
	"kafka.enable_auto_commit",
	"kafka.auto_commit_interval_ms",
	"kafka.publish_timeout_sec",
	"kafka.consumer_lifetime_sec",
	"kafka.consumer_lifetime_jitter_sec",
	"kafka.log_level",
	"status.backend",
	"status.response_hold_sec",
	"redis.url",
	"database.url",
	"auth.jwt_secret",
	"supervisor.consumers_count",
	"supervisor.restart_delay_sec",
	"supervisor.max_restarts",
	"supervisor.consumer_path",
}
