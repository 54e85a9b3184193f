/*
File: internal/platform/auth/jwt_verifier.go
Description: Verifies HS256-signed JWTs presented by clients and resolves
them to a user id.
*/
// Package auth contains credential verification adapters.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

// userIDClaim is read before falling back to the standard subject.
const userIDClaim = "userId"

// JWTVerifier implements relay.CredentialVerifier with a shared HMAC secret.
type JWTVerifier struct {
	secret []byte
	skew   time.Duration
	logger *slog.Logger
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string, logger *slog.Logger) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	return &JWTVerifier{
		secret: []byte(secret),
		skew:   30 * time.Second,
		logger: logger.With("component", "JWTVerifier"),
	}, nil
}

// Verify checks the token's signature and expiry and returns its user id.
// Every failure wraps relay.ErrUnauthenticated.
func (v *JWTVerifier) Verify(_ context.Context, token string) (relay.UserID, error) {
	if token == "" {
		return "", fmt.Errorf("missing token: %w", relay.ErrUnauthenticated)
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.skew),
	)
	if err != nil {
		v.logger.Debug("Token rejected", "err", err)
		return "", fmt.Errorf("invalid token: %w", relay.ErrUnauthenticated)
	}

	if raw, ok := parsed.Get(userIDClaim); ok {
		if id, ok := raw.(string); ok && id != "" {
			return relay.UserID(id), nil
		}
	}
	if sub := parsed.Subject(); sub != "" {
		return relay.UserID(sub), nil
	}
	return "", fmt.Errorf("token has no user id: %w", relay.ErrUnauthenticated)
}
