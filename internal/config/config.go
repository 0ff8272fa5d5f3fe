package config

import (
	"strings"
	"time"
)

// Status store backends
const (
	StatusBackendRedis    = "redis"
	StatusBackendPostgres = "postgres"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Kafka      KafkaConfig      `mapstructure:"kafka" validate:"required"`
	Status     StatusConfig     `mapstructure:"status" validate:"required"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// KafkaConfig contains broker connection and consumer behaviour settings.
type KafkaConfig struct {
	// BootstrapServers is a comma separated list, e.g. "kafka1:9092,kafka2:9092"
	BootstrapServers string `mapstructure:"bootstrap_servers"`

	// TopicAsyncRequest is the topic the demo endpoint enqueues to
	TopicAsyncRequest string `mapstructure:"topic_async_request"`

	// GroupID is the consumer group; empty means no group (partition 0 only)
	GroupID string `mapstructure:"group_id"`

	// AutoOffsetReset decides where a group without committed offsets starts
	AutoOffsetReset string `mapstructure:"auto_offset_reset" validate:"oneof=earliest latest"`

	// EnableAutoCommit commits offsets on a timer instead of after each handler.
	// A crash loses the commits of the last interval and a commit may run
	// before the handler finishes, so it stays off by default.
	EnableAutoCommit bool `mapstructure:"enable_auto_commit"`

	AutoCommitIntervalMS int `mapstructure:"auto_commit_interval_ms" validate:"gte=0"`

	PublishTimeoutSec int `mapstructure:"publish_timeout_sec" validate:"gt=0"`

	// ConsumerLifetimeSec is the base lifetime of a consumer process; 0 disables
	// the lifetime timer
	ConsumerLifetimeSec int `mapstructure:"consumer_lifetime_sec" validate:"gte=0"`

	// ConsumerLifetimeJitterSec is the maximum random extension of the lifetime
	ConsumerLifetimeJitterSec int `mapstructure:"consumer_lifetime_jitter_sec" validate:"gte=0"`

	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// StatusConfig selects and tunes the status store.
type StatusConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=redis postgres"`

	// ResponseHoldSec is the retention window re-applied on every status write
	ResponseHoldSec int `mapstructure:"response_hold_sec" validate:"gt=0"`
}

// RedisConfig contains the Redis connection settings.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// DatabaseConfig contains the PostgreSQL settings used by the postgres status backend.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// AuthConfig contains the settings used to resolve caller channels from JWTs.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}

// SupervisorConfig contains the consumer fleet settings.
type SupervisorConfig struct {
	ConsumersCount  int     `mapstructure:"consumers_count" validate:"gt=0"`
	RestartDelaySec float64 `mapstructure:"restart_delay_sec" validate:"gte=0"`

	// MaxRestarts limits restarts per slot; negative means unlimited
	MaxRestarts int `mapstructure:"max_restarts"`

	// ConsumerPath is the consumer binary; empty means "consumer" next to the
	// running executable
	ConsumerPath string `mapstructure:"consumer_path"`
}

// KafkaEnabled reports whether enough broker settings are present to enqueue tasks.
func (c *Config) KafkaEnabled() bool {
	return c.Kafka.BootstrapServers != "" && c.Kafka.TopicAsyncRequest != ""
}

// Brokers splits the bootstrap server list.
func (c KafkaConfig) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.BootstrapServers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// PublishTimeout returns the publish timeout as a duration.
func (c KafkaConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutSec) * time.Second
}

// AutoCommitInterval returns the auto commit interval as a duration.
func (c KafkaConfig) AutoCommitInterval() time.Duration {
	return time.Duration(c.AutoCommitIntervalMS) * time.Millisecond
}

// ConsumerLifetime returns the base lifetime as a duration.
func (c KafkaConfig) ConsumerLifetime() time.Duration {
	return time.Duration(c.ConsumerLifetimeSec) * time.Second
}

// ConsumerLifetimeJitter returns the lifetime jitter as a duration.
func (c KafkaConfig) ConsumerLifetimeJitter() time.Duration {
	return time.Duration(c.ConsumerLifetimeJitterSec) * time.Second
}

// ResponseHold returns the retention window as a duration.
func (c StatusConfig) ResponseHold() time.Duration {
	return time.Duration(c.ResponseHoldSec) * time.Second
}

// RestartDelay returns the restart delay as a duration.
func (c SupervisorConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelaySec * float64(time.Second))
}
