package session

import (
	"context"
	"sync"
	"time"

	"tenantgate/internal/identity"
	"tenantgate/pkg/logging"
)

// sweepInterval is how often the background sweep removes expired sessions
// that were never looked up again.
const sweepInterval = 5 * time.Minute

// MemoryStore is a thread-safe in-memory session store. Expired sessions
// are evicted lazily on lookup and by a periodic background sweep.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	opts      Options
	stopSweep chan struct{}
	stopOnce  sync.Once

	// now is swappable for expiry tests
	now func() time.Time
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(opts Options) *MemoryStore {
	ms := &MemoryStore{
		sessions:  make(map[string]*Session),
		opts:      opts,
		stopSweep: make(chan struct{}),
		now:       time.Now,
	}

	go ms.sweepLoop()

	return ms
}

// Create issues a new session for the user.
func (ms *MemoryStore) Create(ctx context.Context, user identity.UserIdentity) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	now := ms.now()
	sess := &Session{
		Token:     token,
		Identity:  user,
		CreatedAt: now,
		ExpiresAt: now.Add(ms.opts.TTL),
	}

	ms.mu.Lock()
	ms.sessions[token] = sess
	ms.mu.Unlock()

	logging.Debug("Session", "Created session %s for user=%s (expires %v)",
		logging.TruncateToken(token), user.Key(), sess.ExpiresAt)
	return token, nil
}

// Validate resolves a token to its user identity. Expired entries are
// evicted on the spot.
func (ms *MemoryStore) Validate(ctx context.Context, token string) (identity.UserIdentity, error) {
	if token == "" {
		return identity.UserIdentity{}, &UnauthenticatedError{Reason: ReasonMissing}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	sess, ok := ms.sessions[token]
	if !ok {
		return identity.UserIdentity{}, &UnauthenticatedError{Reason: ReasonRevoked}
	}

	if ms.now().After(sess.ExpiresAt) {
		delete(ms.sessions, token)
		return identity.UserIdentity{}, &UnauthenticatedError{Reason: ReasonExpired}
	}

	if ms.opts.Sliding {
		sess.ExpiresAt = ms.now().Add(ms.opts.TTL)
	}

	return sess.Identity, nil
}

// Revoke removes the session. Revoking an unknown token is a no-op.
func (ms *MemoryStore) Revoke(ctx context.Context, token string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.sessions, token)
	return nil
}

// Count returns the number of live entries (expired-but-unswept included).
func (ms *MemoryStore) Count() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.sessions)
}

// Stop stops the background sweep goroutine.
func (ms *MemoryStore) Stop() {
	ms.stopOnce.Do(func() {
		close(ms.stopSweep)
	})
}

func (ms *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.sweep()
		case <-ms.stopSweep:
			return
		}
	}
}

func (ms *MemoryStore) sweep() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	count := 0
	for token, sess := range ms.sessions {
		if now.After(sess.ExpiresAt) {
			delete(ms.sessions, token)
			count++
		}
	}
	if count > 0 {
		logging.Debug("Session", "Swept %d expired sessions", count)
	}
}
