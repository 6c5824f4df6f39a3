package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"tenantgate/internal/identity"
	"tenantgate/pkg/logging"
)

const keyPrefix = "tenantgate:session"

// RedisStore is a session store backed by Redis. Expiry rides on the key
// TTL, so no sweep goroutine is needed; Redis evicts expired sessions on
// its own.
type RedisStore struct {
	client redis.UniversalClient
	opts   Options
}

// NewRedisStore connects to Redis at the given URL
// (redis://[user:pass@]host:port/db) and returns a store using it.
func NewRedisStore(redisURL string, opts Options) (*RedisStore, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{parsed.Addr},
		DB:           parsed.DB,
		Username:     parsed.Username,
		Password:     parsed.Password,
		DialTimeout:  parsed.DialTimeout,
		ReadTimeout:  parsed.ReadTimeout,
		WriteTimeout: parsed.WriteTimeout,
	})

	return &RedisStore{client: client, opts: opts}, nil
}

// Create issues a new session for the user.
func (rs *RedisStore) Create(ctx context.Context, user identity.UserIdentity) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	sess := Session{
		Token:     token,
		Identity:  user,
		CreatedAt: now,
		ExpiresAt: now.Add(rs.opts.TTL),
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	if err := rs.client.Set(ctx, rs.key(token), payload, rs.opts.TTL).Err(); err != nil {
		return "", fmt.Errorf("storing session in redis: %w", err)
	}

	logging.Debug("Session", "Created session %s for user=%s", logging.TruncateToken(token), user.Key())
	return token, nil
}

// Validate resolves a token to its user identity. A storage outage fails
// only this request; the error is not an UnauthenticatedError so callers
// can distinguish "no session" from "store unavailable".
func (rs *RedisStore) Validate(ctx context.Context, token string) (identity.UserIdentity, error) {
	if token == "" {
		return identity.UserIdentity{}, &UnauthenticatedError{Reason: ReasonMissing}
	}

	data, err := rs.client.Get(ctx, rs.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Redis expired it or Revoke removed it; either way the token
		// no longer maps to a session.
		return identity.UserIdentity{}, &UnauthenticatedError{Reason: ReasonRevoked}
	}
	if err != nil {
		return identity.UserIdentity{}, fmt.Errorf("reading session from redis: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return identity.UserIdentity{}, fmt.Errorf("unmarshaling session: %w", err)
	}

	// With sliding sessions the key TTL is authoritative; the payload's
	// ExpiresAt is only the initial deadline and lags behind Expire calls.
	if !rs.opts.Sliding && time.Now().After(sess.ExpiresAt) {
		// Belt and braces: the key TTL should have caught this.
		rs.client.Del(ctx, rs.key(token))
		return identity.UserIdentity{}, &UnauthenticatedError{Reason: ReasonExpired}
	}

	if rs.opts.Sliding {
		if err := rs.client.Expire(ctx, rs.key(token), rs.opts.TTL).Err(); err != nil {
			logging.Warn("Session", "Failed to slide session expiry: %v", err)
		}
	}

	return sess.Identity, nil
}

// Revoke removes the session. Revoking an unknown token is a no-op.
func (rs *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := rs.client.Del(ctx, rs.key(token)).Err(); err != nil {
		return fmt.Errorf("revoking session in redis: %w", err)
	}
	return nil
}

// Stop closes the Redis client.
func (rs *RedisStore) Stop() {
	if err := rs.client.Close(); err != nil {
		logging.Warn("Session", "Closing redis client: %v", err)
	}
}

func (rs *RedisStore) key(token string) string {
	return keyPrefix + ":" + token
}
