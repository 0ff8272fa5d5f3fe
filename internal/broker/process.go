package broker

import "sync"

// Process is the process-scoped broker state of a consumer. A consumer
// process hosts exactly one long-running context, so it owns exactly one
// client, created on first use.
type Process struct {
	factory ClientFactory

	once   sync.Once
	client Client
}

// NewProcess creates the process state; no connection is made yet.
func NewProcess(factory ClientFactory) *Process {
	return &Process{factory: factory}
}

// ConsumerClient returns the process-wide client, creating it on first call.
func (p *Process) ConsumerClient() Client {
	p.once.Do(func() {
		p.client = p.factory()
	})
	return p.client
}

// Close closes the client if one was created.
func (p *Process) Close() error {
	// Claim the once so a late ConsumerClient call cannot create a new client
	p.once.Do(func() {})
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
