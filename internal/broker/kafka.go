package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultPublishTimeout = 10 * time.Second
	defaultMaxWait        = time.Second
)

// KafkaConfig holds the settings shared by every Kafka client of a process.
type KafkaConfig struct {
	Brokers        []string
	PublishTimeout time.Duration
	DialTimeout    time.Duration
	Logger         *slog.Logger
}

// KafkaClient is a Client backed by segmentio/kafka-go. Publishing goes
// through a single writer; the topic is chosen per message and keyed messages
// are hashed so that equal keys always land on the same partition.
type KafkaClient struct {
	cfg    KafkaConfig
	dialer *kafka.Dialer
	writer *kafka.Writer
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	readers []*kafka.Reader
}

// Ensure KafkaClient implements Client
var _ Client = (*KafkaClient)(nil)

// NewKafkaClient creates an unstarted client for the configured brokers.
func NewKafkaClient(cfg KafkaConfig) *KafkaClient {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "kafka_client")

	dialer := &kafka.Dialer{
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.PublishTimeout,
		AllowAutoTopicCreation: true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn("kafka writer error", "detail", fmt.Sprintf(msg, args...))
		}),
	}

	return &KafkaClient{
		cfg:    cfg,
		dialer: dialer,
		writer: writer,
		logger: logger,
	}
}

// NewKafkaClientFactory returns a factory producing clients for cfg.
func NewKafkaClientFactory(cfg KafkaConfig) ClientFactory {
	return func() Client {
		return NewKafkaClient(cfg)
	}
}

// Start verifies that at least one bootstrap server accepts connections.
func (c *KafkaClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cfg.Brokers) == 0 {
		return fmt.Errorf("%w: no bootstrap servers configured", ErrUnavailable)
	}

	var lastErr error
	for _, addr := range c.cfg.Brokers {
		conn, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			c.logger.Debug("bootstrap server not reachable", "addr", addr, "error", err)
			lastErr = err
			continue
		}
		_ = conn.Close()
		c.started = true
		c.logger.Debug("kafka client started", "addr", addr)
		return nil
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// Publish writes one message, bounded by the configured publish timeout.
func (c *KafkaClient) Publish(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	err := c.writer.WriteMessages(ctx, kafka.Message{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	})
	if err != nil {
		if IsConnectivityError(err) {
			return fmt.Errorf("%w: publish to %s: %v", ErrUnavailable, msg.Topic, err)
		}
		return fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}

	return nil
}

// Subscribe creates a reader for topic. With a group id the reader joins the
// group and resumes from committed offsets.
func (c *KafkaClient) Subscribe(topic string, opts SubscribeOptions) (Subscription, error) {
	if topic == "" {
		return nil, errors.New("subscribe: topic is required")
	}

	startOffset := kafka.FirstOffset
	if opts.AutoOffsetReset == "latest" {
		startOffset = kafka.LastOffset
	}

	readerCfg := kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		GroupID:     opts.GroupID,
		Topic:       topic,
		Dialer:      c.dialer,
		StartOffset: startOffset,
		MaxWait:     defaultMaxWait,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			c.logger.Warn("kafka reader error", "topic", topic, "detail", fmt.Sprintf(msg, args...))
		}),
	}
	if opts.AutoCommit {
		readerCfg.CommitInterval = opts.AutoCommitInterval
	}
	if err := readerCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid subscription for %s: %w", topic, err)
	}

	reader := kafka.NewReader(readerCfg)

	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	return &kafkaSubscription{
		client:     c,
		reader:     reader,
		grouped:    opts.GroupID != "",
		autoCommit: opts.AutoCommit,
	}, nil
}

// Close closes the writer and every reader created by Subscribe.
func (c *KafkaClient) Close() error {
	c.mu.Lock()
	readers := c.readers
	c.readers = nil
	c.started = false
	c.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.writer.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// forget drops reader from the set closed by Close.
func (c *KafkaClient) forget(reader *kafka.Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readers = slices.DeleteFunc(c.readers, func(r *kafka.Reader) bool {
		return r == reader
	})
}

func (c *KafkaClient) openReaders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readers)
}

type kafkaSubscription struct {
	client     *KafkaClient
	reader     *kafka.Reader
	grouped    bool
	autoCommit bool
}

func (s *kafkaSubscription) Fetch(ctx context.Context) (Delivery, error) {
	var (
		msg kafka.Message
		err error
	)
	// ReadMessage commits as it reads when the reader belongs to a group
	if s.autoCommit {
		msg, err = s.reader.ReadMessage(ctx)
	} else {
		msg, err = s.reader.FetchMessage(ctx)
	}
	if err != nil {
		return Delivery{}, err
	}

	return Delivery{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
	}, nil
}

func (s *kafkaSubscription) Commit(ctx context.Context, d Delivery) error {
	// Offsets can only be committed within a group, and auto commit already did it
	if !s.grouped || s.autoCommit {
		return nil
	}

	return s.reader.CommitMessages(ctx, kafka.Message{
		Topic:     d.Topic,
		Partition: d.Partition,
		Offset:    d.Offset,
	})
}

func (s *kafkaSubscription) Close() error {
	s.client.forget(s.reader)
	return s.reader.Close()
}
