package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/asyncbg/internal/metrics"
	"github.com/phrazzld/asyncbg/internal/status"
	"github.com/phrazzld/asyncbg/internal/task"
	goredis "github.com/redis/go-redis/v9"
)

// Store is the Redis implementation of status.Store and status.Subscriber.
type Store struct {
	client goredis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// Ensure Store implements the status interfaces
var (
	_ status.Store      = (*Store)(nil)
	_ status.Subscriber = (*Store)(nil)
)

// NewClient parses a redis:// URL and returns a connected client.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewStore creates a store that keeps records for ttl.
// If logger is nil, a default logger will be used.
func NewStore(client goredis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Store {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "redis_status_store")),
	}
}

// Write implements status.Store.
func (s *Store) Write(
	ctx context.Context,
	taskID, channelName string,
	st task.Status,
	response json.RawMessage,
) error {
	log := s.logger.With("task_id", taskID, "status", st)

	data, err := status.EncodeRecord(st, channelName, response)
	if err != nil {
		metrics.StatusWrites.WithLabelValues(string(st), "set_error").Inc()
		return &status.StorageError{Op: status.OpSet, TaskID: taskID, Err: err}
	}

	if err := s.client.Set(ctx, taskID, data, s.ttl).Err(); err != nil {
		log.Error("failed to persist task status", "error", err)
		metrics.StatusWrites.WithLabelValues(string(st), "set_error").Inc()
		return &status.StorageError{Op: status.OpSet, TaskID: taskID, Err: err}
	}

	notification, err := json.Marshal(task.NewNotification(taskID, st))
	if err != nil {
		return &status.StorageError{Op: status.OpPublish, TaskID: taskID, Err: err}
	}

	// The record stays persisted even if the notification cannot be sent
	if err := s.client.Publish(ctx, channelName, notification).Err(); err != nil {
		log.Error("failed to publish task status notification",
			"channel_name", channelName,
			"error", err)
		metrics.StatusWrites.WithLabelValues(string(st), "publish_error").Inc()
		return &status.StorageError{Op: status.OpPublish, TaskID: taskID, Err: err}
	}

	metrics.StatusWrites.WithLabelValues(string(st), metrics.OutcomeOK).Inc()
	log.Debug("task status written")
	return nil
}

// Read implements status.Store.
func (s *Store) Read(ctx context.Context, taskID string) (*task.Record, error) {
	data, err := s.client.Get(ctx, taskID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, status.ErrNotFound
		}
		return nil, &status.StorageError{Op: status.OpGet, TaskID: taskID, Err: err}
	}

	return status.DecodeRecord(data)
}

// Subscribe implements status.Subscriber. Messages that do not decode as
// notifications are logged and skipped.
func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan task.Notification, func(), error) {
	pubsub := s.client.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan task.Notification)
	done := make(chan struct{})
	messages := pubsub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var n task.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					s.logger.Warn("skipping undecodable notification",
						"channel_name", channel,
						"error", err)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			if err := pubsub.Close(); err != nil {
				s.logger.Debug("error closing subscription", "channel_name", channel, "error", err)
			}
		})
	}

	return out, stop, nil
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
