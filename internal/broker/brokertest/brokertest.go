// Package brokertest provides an in-memory broker for tests. Messages
// published through any of its clients are delivered to subscribers of the
// same topic in publish order; failures can be injected per operation.
package brokertest

import (
	"context"
	"errors"
	"sync"

	"github.com/phrazzld/asyncbg/internal/broker"
)

const queueSize = 1024

// ErrClosed is returned by operations on a closed client or subscription.
var ErrClosed = errors.New("brokertest: closed")

// Broker is an in-memory message broker.
type Broker struct {
	mu        sync.Mutex
	queues    map[string]chan broker.Delivery
	offsets   map[string]int64
	published []broker.Message
	committed []broker.Delivery
	clients   []*Client

	startFailures int
	startErr      error
	publishErr    error
	fetchErrs     []error
	commitErr     error
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{
		queues:  make(map[string]chan broker.Delivery),
		offsets: make(map[string]int64),
	}
}

// Factory returns a broker.ClientFactory whose clients talk to b.
func (b *Broker) Factory() broker.ClientFactory {
	return func() broker.Client {
		c := &Client{b: b}
		b.mu.Lock()
		b.clients = append(b.clients, c)
		b.mu.Unlock()
		return c
	}
}

// FailStarts makes the next n calls to Client.Start return err.
func (b *Broker) FailStarts(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startFailures = n
	b.startErr = err
}

// FailPublish makes every Publish return err until called again with nil.
func (b *Broker) FailPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// FailNextFetch queues err to be returned by the next Fetch on any subscription.
func (b *Broker) FailNextFetch(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchErrs = append(b.fetchErrs, err)
}

// FailCommit makes every Commit return err until called again with nil.
func (b *Broker) FailCommit(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commitErr = err
}

// Deliver enqueues a record on topic without going through a client.
func (b *Broker) Deliver(topic string, key, value []byte) {
	b.mu.Lock()
	q := b.queueLocked(topic)
	d := broker.Delivery{
		Topic:  topic,
		Offset: b.offsets[topic],
		Key:    key,
		Value:  value,
	}
	b.offsets[topic]++
	b.mu.Unlock()

	q <- d
}

// Published returns a copy of every message accepted by Publish.
func (b *Broker) Published() []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Message, len(b.published))
	copy(out, b.published)
	return out
}

// Committed returns a copy of every committed delivery.
func (b *Broker) Committed() []broker.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Delivery, len(b.committed))
	copy(out, b.committed)
	return out
}

// Clients returns the clients created through Factory, in creation order.
func (b *Broker) Clients() []*Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Client, len(b.clients))
	copy(out, b.clients)
	return out
}

func (b *Broker) queueLocked(topic string) chan broker.Delivery {
	q, ok := b.queues[topic]
	if !ok {
		q = make(chan broker.Delivery, queueSize)
		b.queues[topic] = q
	}
	return q
}

// Client is an in-memory broker.Client.
type Client struct {
	b *Broker

	mu     sync.Mutex
	starts int
	closed bool
}

var _ broker.Client = (*Client)(nil)

// Start records a successful start unless a failure was injected.
func (c *Client) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.b.mu.Lock()
	if c.b.startFailures > 0 {
		c.b.startFailures--
		err := c.b.startErr
		c.b.mu.Unlock()
		return err
	}
	c.b.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.starts++
	return nil
}

// Publish appends msg to its topic.
func (c *Client) Publish(ctx context.Context, msg broker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Closed() {
		return ErrClosed
	}

	c.b.mu.Lock()
	if c.b.publishErr != nil {
		err := c.b.publishErr
		c.b.mu.Unlock()
		return err
	}
	c.b.published = append(c.b.published, msg)
	c.b.mu.Unlock()

	c.b.Deliver(msg.Topic, msg.Key, msg.Value)
	return nil
}

// Subscribe attaches to topic. All subscriptions of a topic share one queue,
// so each record is delivered once across them.
func (c *Client) Subscribe(topic string, _ broker.SubscribeOptions) (broker.Subscription, error) {
	if c.Closed() {
		return nil, ErrClosed
	}

	c.b.mu.Lock()
	q := c.b.queueLocked(topic)
	c.b.mu.Unlock()

	return &subscription{b: c.b, queue: q, done: make(chan struct{})}, nil
}

// Close marks the client closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Starts returns how many times Start succeeded.
func (c *Client) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type subscription struct {
	b     *Broker
	queue chan broker.Delivery

	once sync.Once
	done chan struct{}
}

func (s *subscription) Fetch(ctx context.Context) (broker.Delivery, error) {
	s.b.mu.Lock()
	if len(s.b.fetchErrs) > 0 {
		err := s.b.fetchErrs[0]
		s.b.fetchErrs = s.b.fetchErrs[1:]
		s.b.mu.Unlock()
		return broker.Delivery{}, err
	}
	s.b.mu.Unlock()

	select {
	case d := <-s.queue:
		return d, nil
	case <-s.done:
		return broker.Delivery{}, ErrClosed
	case <-ctx.Done():
		return broker.Delivery{}, ctx.Err()
	}
}

func (s *subscription) Commit(_ context.Context, d broker.Delivery) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.commitErr != nil {
		return s.b.commitErr
	}
	s.b.committed = append(s.b.committed, d)
	return nil
}

func (s *subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
