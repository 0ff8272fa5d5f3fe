package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/asyncbg/internal/broker"
	"github.com/phrazzld/asyncbg/internal/metrics"
	"github.com/phrazzld/asyncbg/internal/platform/logger"
	"github.com/phrazzld/asyncbg/internal/status"
	"github.com/phrazzld/asyncbg/internal/task"
)

// Common errors
var (
	// ErrInvalidRequest is returned when topic or channel name is missing.
	ErrInvalidRequest = errors.New("invalid enqueue request")

	// ErrInvalidPayload is returned when the payload is not valid JSON.
	ErrInvalidPayload = errors.New("payload must be valid JSON")
)

// EnqueueRequest describes one unit of work to hand off.
type EnqueueRequest struct {
	// Topic the envelope is published to
	Topic string

	// ChannelName receives status notifications and guards status reads
	ChannelName string

	// Payload is passed to the handler untouched
	Payload json.RawMessage

	// PartitionMarker, when set, keeps envelopes with the same marker in
	// publish order by routing them to the same partition
	PartitionMarker string
}

// Producer creates task envelopes and publishes them.
type Producer struct {
	registry *broker.Registry
	store    status.Store
	logger   *slog.Logger

	mu     sync.Mutex
	topics map[topicKey]*topicProducer
}

// New creates a Producer publishing through registry clients and recording
// status in store.
func New(registry *broker.Registry, store status.Store, logger *slog.Logger) *Producer {
	return &Producer{
		registry: registry,
		store:    store,
		logger:   logger.With("component", "task_producer"),
		topics:   make(map[topicKey]*topicProducer),
	}
}

// Enqueue creates a task, publishes its envelope and returns it.
//
// The status record moves to created before anything is sent, then to pending
// once the broker accepted the envelope. When publishing fails the record is
// set to failed with the error detail and the publish error is returned.
// A failure to write the created status aborts the call before sending.
func (p *Producer) Enqueue(ctx context.Context, req EnqueueRequest) (*task.Envelope, error) {
	if req.Topic == "" || req.ChannelName == "" {
		return nil, fmt.Errorf("%w: topic and channel name are required", ErrInvalidRequest)
	}
	if !json.Valid(req.Payload) {
		return nil, ErrInvalidPayload
	}

	env := &task.Envelope{
		TaskID:      uuid.New().String(),
		ChannelName: req.ChannelName,
		Payload:     req.Payload,
	}

	log := logger.FromContextOrDefault(ctx, p.logger).With(
		"task_id", env.TaskID,
		"topic", req.Topic,
		"channel_name", req.ChannelName,
	)

	if err := p.store.Write(ctx, env.TaskID, env.ChannelName, task.StatusCreated, nil); err != nil {
		metrics.TasksEnqueued.WithLabelValues(req.Topic, metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to record created status: %w", err)
	}

	value, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task envelope: %w", err)
	}

	var key []byte
	if req.PartitionMarker != "" {
		key = []byte(req.PartitionMarker)
	}

	if err := p.topicProducer(ctx, req.Topic).send(ctx, key, value); err != nil {
		metrics.TasksEnqueued.WithLabelValues(req.Topic, metrics.OutcomeError).Inc()
		log.Error("failed to publish task", "error", err)

		sendErr := fmt.Errorf("failed to publish task %s: %w", env.TaskID, err)
		if writeErr := p.store.Write(ctx, env.TaskID, env.ChannelName, task.StatusFailed, task.ErrorResponse(err)); writeErr != nil {
			return nil, errors.Join(sendErr, fmt.Errorf("failed to record failed status: %w", writeErr))
		}
		return nil, sendErr
	}

	if err := p.store.Write(ctx, env.TaskID, env.ChannelName, task.StatusPending, nil); err != nil {
		metrics.TasksEnqueued.WithLabelValues(req.Topic, metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to record pending status: %w", err)
	}

	metrics.TasksEnqueued.WithLabelValues(req.Topic, metrics.OutcomeOK).Inc()
	log.Debug("task enqueued")
	return env, nil
}

// topicProducer returns the cached producer for topic in the caller's context.
func (p *Producer) topicProducer(ctx context.Context, topic string) *topicProducer {
	key := topicKey{topic: topic, contextID: broker.ContextIDFrom(ctx)}

	p.mu.Lock()
	defer p.mu.Unlock()

	tp, ok := p.topics[key]
	if !ok {
		tp = newTopicProducer(topic, p.registry)
		p.topics[key] = tp
	}
	return tp
}
