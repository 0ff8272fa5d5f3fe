package consumer

import (
	"context"
	"sort"
	"sync"

	"github.com/phrazzld/asyncbg/internal/task"
)

// Handler processes one task envelope. A returned error stops the consumer.
type Handler interface {
	Handle(ctx context.Context, env *task.Envelope, st *Status) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *task.Envelope, st *Status) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, env *task.Envelope, st *Status) error {
	return f(ctx, env, st)
}

// Router maps topics to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Handle registers h for topic, replacing any earlier registration.
func (r *Router) Handle(topic string, h Handler) {
	if topic == "" {
		panic("consumer: empty topic")
	}
	if h == nil {
		panic("consumer: nil handler for topic " + topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = h
}

// HandleFunc registers f for topic.
func (r *Router) HandleFunc(topic string, f func(ctx context.Context, env *task.Envelope, st *Status) error) {
	r.Handle(topic, HandlerFunc(f))
}

// Topics returns the registered topics in sorted order.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// handler returns the handler for topic.
func (r *Router) handler(topic string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[topic]
	return h, ok
}
