package broker

import (
	"errors"
	"log/slog"
	"sync"
)

// Registry maps context identities to broker clients. Each identity gets its
// own client, created on first use and kept for the rest of the process.
// Entries are never evicted: contexts are few and long-lived.
type Registry struct {
	factory ClientFactory
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[ContextID]Client
}

// NewRegistry creates an empty registry that builds clients with factory.
func NewRegistry(factory ClientFactory, logger *slog.Logger) *Registry {
	return &Registry{
		factory: factory,
		logger:  logger.With("component", "broker_registry"),
		clients: make(map[ContextID]Client),
	}
}

// Acquire returns the client owned by id, creating it on first call.
// The lock only covers lookup and creation; callers use the client unlocked.
func (r *Registry) Acquire(id ContextID) Client {
	r.mu.RLock()
	client, ok := r.clients[id]
	r.mu.RUnlock()
	if ok {
		return client
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine of the same context may have won the race
	if client, ok := r.clients[id]; ok {
		return client
	}

	client = r.factory()
	r.clients[id] = client
	r.logger.Debug("created broker client",
		"context_id", id,
		"client_count", len(r.clients))

	return client
}

// Len returns the number of cached clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close closes every cached client. It is meant for process shutdown only;
// the registry must not be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, client := range r.clients {
		if err := client.Close(); err != nil {
			r.logger.Error("failed to close broker client", "context_id", id, "error", err)
			errs = append(errs, err)
		}
		delete(r.clients, id)
	}

	return errors.Join(errs...)
}
