package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Key type for context values
type ContextKey string

// Context keys for various values
const (
	// ChannelNameContextKey is the context key for the resolved caller channel
	ChannelNameContextKey ContextKey = "channelName"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"
)

// SetTraceID adds a fresh trace ID to the context.
// This is useful for correlating logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// SetChannelName stores the caller's resolved channel in the context.
func SetChannelName(ctx context.Context, channelName string) context.Context {
	return context.WithValue(ctx, ChannelNameContextKey, channelName)
}

// GetChannelName returns the channel stored by SetChannelName.
func GetChannelName(ctx context.Context) (string, bool) {
	channelName, ok := ctx.Value(ChannelNameContextKey).(string)
	if !ok || channelName == "" {
		return "", false
	}
	return channelName, true
}

// generateTraceID returns a 32-character hex string.
func generateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
