// Package session implements the gateway's session store: the mapping from
// an opaque, unguessable session token to a verified user identity with an
// expiry. Two implementations are provided, an in-memory store and a
// Redis-backed store for deployments where sessions must survive restarts.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"tenantgate/internal/identity"
)

// tokenBytes is the entropy of a session token before encoding.
const tokenBytes = 32

// Session binds a token to a user identity and expiry.
type Session struct {
	Token     string                `json:"token"`
	Identity  identity.UserIdentity `json:"identity"`
	CreatedAt time.Time             `json:"created_at"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// UnauthReason classifies why a token failed validation.
type UnauthReason string

const (
	ReasonMissing UnauthReason = "missing"
	ReasonExpired UnauthReason = "expired"
	ReasonRevoked UnauthReason = "revoked"
)

// UnauthenticatedError is returned when a session token cannot be resolved
// to a live session. The caller redirects the user to login.
type UnauthenticatedError struct {
	Reason UnauthReason
}

func (e *UnauthenticatedError) Error() string {
	return fmt.Sprintf("unauthenticated: session %s", e.Reason)
}

// Store issues, validates, and revokes session tokens.
//
// Validate returns the identity bound at Create until the session expires
// or is revoked. Revoke is idempotent and immediately visible. Stores with
// background work expose Stop.
type Store interface {
	Create(ctx context.Context, user identity.UserIdentity) (string, error)
	Validate(ctx context.Context, token string) (identity.UserIdentity, error)
	Revoke(ctx context.Context, token string) error
	Stop()
}

// Options configure session issuance, shared by all store implementations.
type Options struct {
	// TTL is the session lifetime.
	TTL time.Duration

	// Sliding extends the deadline by TTL on every successful validation.
	Sliding bool
}

// newToken generates a cryptographically random, URL-safe session token.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
