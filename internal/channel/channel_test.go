package channel

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

func signToken(t *testing.T, secret string, c claims, method jwt.SigningMethod) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, c).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	valid := claims{
		UserID: "42",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	subjectOnly := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "abc",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	expired := claims{
		UserID: "42",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	}

	tests := []struct {
		name    string
		secret  string
		token   string
		want    string
		wantErr bool
	}{
		{name: "plain token is the channel", secret: testSecret, token: "test-channel", want: "test-channel"},
		{name: "jwt resolves to user channel", secret: testSecret, token: signToken(t, testSecret, valid, jwt.SigningMethodHS256), want: "user_42"},
		{name: "subject used without uid", secret: testSecret, token: signToken(t, testSecret, subjectOnly, jwt.SigningMethodHS256), want: "user_abc"},
		{name: "empty token", secret: testSecret, token: "  ", wantErr: true},
		{name: "expired jwt", secret: testSecret, token: signToken(t, testSecret, expired, jwt.SigningMethodHS256), wantErr: true},
		{name: "wrong signature", secret: testSecret, token: signToken(t, "another-secret-that-is-also-32-chars-long", valid, jwt.SigningMethodHS256), wantErr: true},
		{name: "unexpected algorithm", secret: testSecret, token: signToken(t, testSecret, valid, jwt.SigningMethodHS512), wantErr: true},
		{name: "jwt without secret", secret: "", token: signToken(t, testSecret, valid, jwt.SigningMethodHS256), wantErr: true},
		{name: "malformed jwt shape", secret: testSecret, token: "a.b.c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.secret)
			r.timeFunc = func() time.Time { return now }

			got, err := r.Resolve(context.Background(), tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnresolved)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "bearer header", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "non bearer scheme", header: "Basic abc", want: ""},
		{name: "query fallback", query: "?token=xyz", want: "xyz"},
		{name: "header wins over query", header: "Bearer abc", query: "?token=xyz", want: "abc"},
		{name: "nothing", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/x"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, TokenFromRequest(req))
		})
	}
}

func TestResolver_FromRequest(t *testing.T) {
	t.Parallel()
	r := NewResolver(testSecret)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer my-channel")
	got, err := r.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "my-channel", got)

	_, err = r.FromRequest(httptest.NewRequest("GET", "/", nil))
	assert.ErrorIs(t, err, ErrUnresolved)
}
