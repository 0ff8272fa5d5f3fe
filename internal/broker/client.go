package broker

import (
	"context"
	"time"
)

// Message is a single record to publish.
type Message struct {
	Topic string
	// Key routes the message to a partition; nil lets the broker balance
	Key   []byte
	Value []byte
}

// Delivery is a record received from a subscription.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// SubscribeOptions tune how a subscription joins its topic.
type SubscribeOptions struct {
	// GroupID is the consumer group; empty reads without a group
	GroupID string

	// AutoOffsetReset is "earliest" or "latest" and only matters for a group
	// with no committed offsets
	AutoOffsetReset string

	// AutoCommit commits offsets as messages are read instead of after the
	// handler returns
	AutoCommit bool

	AutoCommitInterval time.Duration
}

// Client is a connection to the broker. A Client must only be used from the
// context it was acquired for.
type Client interface {
	// Start establishes the connection. It is safe to call more than once.
	Start(ctx context.Context) error

	// Publish sends one message and waits for the broker to accept it.
	Publish(ctx context.Context, msg Message) error

	// Subscribe attaches to a topic.
	Subscribe(topic string, opts SubscribeOptions) (Subscription, error)

	// Close releases the connection.
	Close() error
}

// Subscription delivers records from one topic.
type Subscription interface {
	// Fetch blocks until the next record arrives or ctx is done.
	Fetch(ctx context.Context) (Delivery, error)

	// Commit marks the record as processed.
	Commit(ctx context.Context, d Delivery) error

	Close() error
}

// ClientFactory creates a new, unstarted client bound to the configured brokers.
type ClientFactory func() Client
