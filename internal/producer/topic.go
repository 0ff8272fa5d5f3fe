package producer

import (
	"context"
	"fmt"
	"sync"

	"github.com/phrazzld/asyncbg/internal/broker"
)

// topicKey identifies a cached topicProducer.
type topicKey struct {
	topic     string
	contextID broker.ContextID
}

// topicProducer sends to one topic over a registry client. It starts the
// client lazily and starts again whenever it is used from a context other
// than the one it last started in.
type topicProducer struct {
	topic    string
	registry *broker.Registry

	mu        sync.Mutex
	client    broker.Client
	startedIn broker.ContextID
}

func newTopicProducer(topic string, registry *broker.Registry) *topicProducer {
	return &topicProducer{
		topic:    topic,
		registry: registry,
	}
}

// ensureStarted returns a started client for the context carried by ctx.
func (p *topicProducer) ensureStarted(ctx context.Context) (broker.Client, error) {
	id := broker.ContextIDFrom(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.startedIn == id {
		return p.client, nil
	}

	client := p.registry.Acquire(id)
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start producer for %s: %w", p.topic, err)
	}

	p.client = client
	p.startedIn = id
	return client, nil
}

// send publishes value with an optional partition key.
func (p *topicProducer) send(ctx context.Context, key, value []byte) error {
	client, err := p.ensureStarted(ctx)
	if err != nil {
		return err
	}

	return client.Publish(ctx, broker.Message{
		Topic: p.topic,
		Key:   key,
		Value: value,
	})
}
