package middleware

import (
	"net/http"

	"github.com/phrazzld/asyncbg/internal/broker"
)

// NewContextIDMiddleware tags every request context with id so that broker
// connections acquired while serving it are shared across the server loop.
func NewContextIDMiddleware(id broker.ContextID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(broker.WithContextID(r.Context(), id)))
		})
	}
}
