package broker

import (
	"context"

	"github.com/google/uuid"
)

// ContextID identifies one concurrent execution unit (a request-serving loop,
// a worker goroutine) for as long as that unit lives.
type ContextID string

// DefaultContextID is used for contexts that carry no identity of their own.
const DefaultContextID ContextID = "process"

type contextKey struct{}

// NewContextID returns a fresh, unique context identity.
func NewContextID() ContextID {
	return ContextID(uuid.NewString())
}

// WithContextID tags ctx with the identity of the execution unit that owns it.
func WithContextID(ctx context.Context, id ContextID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// ContextIDFrom returns the identity carried by ctx, or DefaultContextID.
func ContextIDFrom(ctx context.Context) ContextID {
	if ctx != nil {
		if id, ok := ctx.Value(contextKey{}).(ContextID); ok && id != "" {
			return id
		}
	}
	return DefaultContextID
}
