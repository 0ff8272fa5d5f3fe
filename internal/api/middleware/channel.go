package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/phrazzld/asyncbg/internal/api/shared"
	"github.com/phrazzld/asyncbg/internal/channel"
	"github.com/phrazzld/asyncbg/internal/platform/logger"
	"github.com/phrazzld/asyncbg/internal/redact"
)

// ChannelResolver derives a notification channel from a request.
type ChannelResolver interface {
	FromRequest(r *http.Request) (string, error)
}

// Ensure channel.Resolver implements ChannelResolver
var _ ChannelResolver = (*channel.Resolver)(nil)

// ChannelMiddleware rejects requests whose caller channel cannot be resolved.
type ChannelMiddleware struct {
	resolver ChannelResolver
}

// NewChannelMiddleware creates a new ChannelMiddleware with the given resolver.
func NewChannelMiddleware(resolver ChannelResolver) *ChannelMiddleware {
	return &ChannelMiddleware{
		resolver: resolver,
	}
}

// RequireChannel resolves the caller channel and adds it to the request
// context. Unresolvable callers get 401.
func (m *ChannelMiddleware) RequireChannel(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channelName, err := m.resolver.FromRequest(r)
		if err != nil {
			if errors.Is(err, channel.ErrUnresolved) {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Channel could not be resolved")
				return
			}
			logger.FromContext(r.Context()).Error("failed to resolve channel", "error", redact.Error(err))
			shared.RespondWithError(w, r, http.StatusInternalServerError, "Authentication error")
			return
		}

		ctx := shared.SetChannelName(r.Context(), channelName)
		ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With("channel_name", channelName))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetChannel extracts the channel name from the request context.
// Returns the channel and a boolean indicating if it was found.
func GetChannel(r *http.Request) (string, bool) {
	return shared.GetChannelName(r.Context())
}

// WithChannel is a test helper that places channelName in ctx as
// RequireChannel would.
func WithChannel(ctx context.Context, channelName string) context.Context {
	return shared.SetChannelName(ctx, channelName)
}
