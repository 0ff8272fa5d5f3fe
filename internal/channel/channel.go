// Package channel resolves the notification channel of a caller from its
// bearer token. A signed JWT resolves to the channel of the user it names;
// any other token is used as the channel name directly.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/asyncbg/internal/platform/logger"
)

// ErrUnresolved is returned when no channel can be derived from a request.
var ErrUnresolved = errors.New("channel name could not be resolved")

// userChannelPrefix is prepended to the user id of a JWT subject.
const userChannelPrefix = "user_"

// claims is the subset of JWT claims used for channel resolution.
type claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Resolver maps bearer tokens to channel names.
type Resolver struct {
	signingKey []byte
	timeFunc   func() time.Time // Injectable for testing
	clockSkew  time.Duration
}

// NewResolver creates a Resolver validating JWTs with the HMAC secret. With an
// empty secret every JWT is rejected; plain tokens still resolve.
func NewResolver(secret string) *Resolver {
	return &Resolver{
		signingKey: []byte(secret),
		timeFunc:   time.Now,
		clockSkew:  2 * time.Minute,
	}
}

// Resolve returns the channel name for token.
func (r *Resolver) Resolve(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: no token in request", ErrUnresolved)
	}

	if strings.Count(token, ".") != 2 {
		return token, nil
	}

	uid, err := r.userID(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolved, err)
	}
	return userChannelPrefix + uid, nil
}

// FromRequest resolves the channel of an HTTP request.
func (r *Resolver) FromRequest(req *http.Request) (string, error) {
	return r.Resolve(req.Context(), TokenFromRequest(req))
}

func (r *Resolver) userID(ctx context.Context, tokenString string) (string, error) {
	log := logger.FromContext(ctx)

	if len(r.signingKey) == 0 {
		return "", errors.New("token validation is not configured")
	}

	now := r.timeFunc()
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(r.clockSkew),
		jwt.WithTimeFunc(func() time.Time {
			return now
		}),
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return r.signingKey, nil
		},
		parserOpts...)
	if err != nil {
		log.Debug("channel token validation failed", "error", err)
		return "", err
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}

	uid := c.UserID
	if uid == "" {
		uid = c.Subject
	}
	if uid == "" {
		return "", errors.New("token names no user")
	}
	return uid, nil
}

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the token query parameter for WebSocket clients that cannot
// set headers.
func TokenFromRequest(req *http.Request) string {
	authHeader := req.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Fields(authHeader)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return req.URL.Query().Get("token")
}
