package auth_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-presence-relay/internal/platform/auth"
	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

const testSecret = "test-secret"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signToken(t *testing.T, secret string, build func(b *jwt.Builder) *jwt.Builder) string {
	t.Helper()
	token, err := build(jwt.NewBuilder().IssuedAt(time.Now())).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(secret)))
	require.NoError(t, err)
	return string(signed)
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	_, err := auth.NewJWTVerifier("", newTestLogger())
	assert.Error(t, err)
}

func TestJWTVerifier_Verify(t *testing.T) {
	ctx := context.Background()
	verifier, err := auth.NewJWTVerifier(testSecret, newTestLogger())
	require.NoError(t, err)

	testCases := []struct {
		name    string
		token   func(t *testing.T) string
		want    relay.UserID
		wantErr bool
	}{
		{
			name: "userId claim",
			token: func(t *testing.T) string {
				return signToken(t, testSecret, func(b *jwt.Builder) *jwt.Builder {
					return b.Claim("userId", "alice").Subject("ignored").Expiration(time.Now().Add(time.Hour))
				})
			},
			want: "alice",
		},
		{
			name: "subject fallback",
			token: func(t *testing.T) string {
				return signToken(t, testSecret, func(b *jwt.Builder) *jwt.Builder {
					return b.Subject("bob")
				})
			},
			want: "bob",
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return signToken(t, "other-secret", func(b *jwt.Builder) *jwt.Builder {
					return b.Subject("bob")
				})
			},
			wantErr: true,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				return signToken(t, testSecret, func(b *jwt.Builder) *jwt.Builder {
					return b.Subject("bob").Expiration(time.Now().Add(-time.Hour))
				})
			},
			wantErr: true,
		},
		{
			name: "no identity",
			token: func(t *testing.T) string {
				return signToken(t, testSecret, func(b *jwt.Builder) *jwt.Builder { return b })
			},
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   func(*testing.T) string { return "not-a-jwt" },
			wantErr: true,
		},
		{
			name:    "empty",
			token:   func(*testing.T) string { return "" },
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := verifier.Verify(ctx, tc.token(t))

			if tc.wantErr {
				assert.ErrorIs(t, err, relay.ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, id)
		})
	}
}
