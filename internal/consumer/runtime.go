package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/asyncbg/internal/broker"
	"github.com/phrazzld/asyncbg/internal/metrics"
	"github.com/phrazzld/asyncbg/internal/status"
	"github.com/phrazzld/asyncbg/internal/task"
)

const (
	// DefaultRetryDelay is the pause before reconnecting to an unavailable broker.
	DefaultRetryDelay = time.Second

	// DefaultShutdownGrace bounds how long an in-flight task may keep running
	// after shutdown starts. It stays under the supervisor's kill timeout.
	DefaultShutdownGrace = 4 * time.Second
)

// Config tunes a Runtime.
type Config struct {
	// GroupID is the consumer group shared by every consumer process
	GroupID            string
	AutoOffsetReset    string
	AutoCommit         bool
	AutoCommitInterval time.Duration

	// Lifetime is how long the process runs before exiting on its own;
	// zero runs until cancelled
	Lifetime time.Duration

	// LifetimeJitter adds a random extra of up to this much to Lifetime so
	// that a fleet started together does not exit together
	LifetimeJitter time.Duration

	// RetryDelay defaults to DefaultRetryDelay
	RetryDelay time.Duration

	// ShutdownGrace defaults to DefaultShutdownGrace
	ShutdownGrace time.Duration
}

// Runtime is the receive loop of a consumer process.
type Runtime struct {
	process *broker.Process
	router  *Router
	store   status.Store
	cfg     Config
	logger  *slog.Logger

	state atomic.Int32

	// jitter returns a value in [0, n]; replaced in tests
	jitter func(n int64) int64
}

// New creates a Runtime. The process state supplies the single broker client
// the runtime uses for its whole life.
func New(process *broker.Process, router *Router, store status.Store, cfg Config, logger *slog.Logger) *Runtime {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	return &Runtime{
		process: process,
		router:  router,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "consumer_runtime"),
		jitter: func(n int64) int64 {
			return rand.Int64N(n + 1)
		},
	}
}

// State returns the current lifecycle stage.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

func (r *Runtime) setState(s State) {
	old := State(r.state.Swap(int32(s)))
	if old != s {
		r.logger.Debug("consumer state changed", "from", old, "to", s)
	}
}

// lifetime returns the randomised run duration, or zero when unlimited.
func (r *Runtime) lifetime() time.Duration {
	if r.cfg.Lifetime <= 0 {
		return 0
	}
	extra := time.Duration(0)
	if r.cfg.LifetimeJitter > 0 {
		extra = time.Duration(r.jitter(int64(r.cfg.LifetimeJitter)))
	}
	return r.cfg.Lifetime + extra
}

// Run consumes until the lifetime ends or ctx is cancelled, returning nil,
// or until a non-connectivity failure, returning a *FatalError.
func (r *Runtime) Run(ctx context.Context) error {
	topics := r.router.Topics()
	if len(topics) == 0 {
		r.logger.Warn("no task handlers registered, nothing to consume")
		r.setState(StateTerminatingNormal)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if lifetime := r.lifetime(); lifetime > 0 {
		r.logger.Info("consumer lifetime set", "lifetime_sec", lifetime.Seconds())
		timer := time.AfterFunc(lifetime, func() {
			r.logger.Info("consumer lifetime reached, shutting down")
			cancel()
		})
		defer timer.Stop()
	}

	for {
		r.setState(StateConnecting)

		subs, err := r.connect(ctx, topics)
		if err == nil {
			r.setState(StateRunning)
			r.logger.Info("consumer running", "topics", topics)
			err = r.consume(ctx, subs)
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			r.setState(StateTerminatingError)
			r.logger.Error("consumer failed", "error", fatal.Err)
			return fatal
		}

		if ctx.Err() != nil {
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("error while stopping", "error", err)
			}
			r.setState(StateTerminatingNormal)
			r.logger.Info("consumer stopped")
			return nil
		}

		if err != nil && broker.IsConnectivityError(err) {
			r.logger.Warn("broker unavailable, retrying",
				"error", err,
				"retry_in_sec", r.cfg.RetryDelay.Seconds())
			metrics.ConsumerReconnects.Inc()
			if !sleep(ctx, r.cfg.RetryDelay) {
				r.setState(StateTerminatingNormal)
				return nil
			}
			continue
		}

		if err == nil {
			err = errors.New("subscriptions ended unexpectedly")
		}
		fatal = &FatalError{Err: err}
		r.setState(StateTerminatingError)
		r.logger.Error("consumer failed", "error", fatal.Err)
		return fatal
	}
}

// connect starts the process client and subscribes every topic.
func (r *Runtime) connect(ctx context.Context, topics []string) (map[string]broker.Subscription, error) {
	client := r.process.ConsumerClient()
	if err := client.Start(ctx); err != nil {
		return nil, err
	}

	opts := broker.SubscribeOptions{
		GroupID:            r.cfg.GroupID,
		AutoOffsetReset:    r.cfg.AutoOffsetReset,
		AutoCommit:         r.cfg.AutoCommit,
		AutoCommitInterval: r.cfg.AutoCommitInterval,
	}

	subs := make(map[string]broker.Subscription, len(topics))
	for _, topic := range topics {
		sub, err := client.Subscribe(topic, opts)
		if err != nil {
			closeAll(subs)
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		subs[topic] = sub
	}

	return subs, nil
}

// consume drains every subscription until one fails or ctx is done.
func (r *Runtime) consume(ctx context.Context, subs map[string]broker.Subscription) error {
	defer closeAll(subs)

	g, gctx := errgroup.WithContext(ctx)
	for topic, sub := range subs {
		g.Go(func() error {
			return r.drain(gctx, topic, sub)
		})
	}
	return g.Wait()
}

// drain fetches on ctx but handles and commits on a context that outlives
// ctx by the shutdown grace, so a stop lets the in-flight task finish.
func (r *Runtime) drain(ctx context.Context, topic string, sub broker.Subscription) error {
	hctx, stop := r.handlingContext(ctx)
	defer stop()

	for ctx.Err() == nil {
		d, err := sub.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch from %s: %w", topic, err)
		}

		if err := r.dispatch(hctx, topic, d); err != nil {
			return err
		}

		if err := sub.Commit(hctx, d); err != nil {
			if hctx.Err() != nil {
				r.logger.Warn("offset left uncommitted after shutdown grace",
					"topic", topic, "offset", d.Offset, "error", err)
				return nil
			}
			return fmt.Errorf("failed to commit offset %d on %s: %w", d.Offset, topic, err)
		}
	}
	return nil
}

// handlingContext returns a context that ignores the cancellation of ctx
// until the shutdown grace has passed.
func (r *Runtime) handlingContext(ctx context.Context) (context.Context, func()) {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}

		grace := time.NewTimer(r.cfg.ShutdownGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			cancel()
		}
	}()

	return hctx, func() {
		close(done)
		cancel()
	}
}

// dispatch runs the topic handler for one delivery. Every failure here is
// fatal, including connectivity errors raised by the handler itself.
func (r *Runtime) dispatch(ctx context.Context, topic string, d broker.Delivery) (err error) {
	env, err := task.DecodeEnvelope(d.Value)
	if err != nil {
		metrics.TasksHandled.WithLabelValues(topic, metrics.OutcomeError).Inc()
		return &FatalError{Err: fmt.Errorf("offset %d on %s: %w", d.Offset, topic, err)}
	}

	h, ok := r.router.handler(topic)
	if !ok {
		return &FatalError{Err: fmt.Errorf("no handler registered for %s", topic)}
	}

	log := r.logger.With("task_id", env.TaskID, "topic", topic)
	log.Debug("handling task")

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = &FatalError{Err: fmt.Errorf("handler for %s panicked on task %s: %v", topic, env.TaskID, p)}
		}
		metrics.HandlerDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
		}
		metrics.TasksHandled.WithLabelValues(topic, outcome).Inc()
	}()

	if err := h.Handle(ctx, env, newStatus(r.store, env, log)); err != nil {
		return &FatalError{Err: fmt.Errorf("handler for %s failed on task %s: %w", topic, env.TaskID, err)}
	}

	log.Debug("task handled", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func closeAll(subs map[string]broker.Subscription) {
	for _, sub := range subs {
		_ = sub.Close()
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
