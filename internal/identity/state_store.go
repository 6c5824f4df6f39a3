package identity

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"tenantgate/pkg/logging"
)

// LoginState binds an anti-forgery state parameter to the login redirect
// that minted it.
type LoginState struct {
	// Provider is the identity provider the login was initiated against.
	Provider string `json:"provider"`

	// Nonce is a random value for CSRF protection.
	Nonce string `json:"nonce"`

	// CreatedAt is when the state was created (for expiration).
	CreatedAt time.Time `json:"created_at"`
}

// StateStore provides thread-safe storage for anti-forgery login states.
// States are single-use: validation consumes them, so a replayed callback
// always fails.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]*LoginState

	stateExpiry time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewStateStore creates a state store whose entries expire after ttl.
func NewStateStore(ttl time.Duration) *StateStore {
	ss := &StateStore{
		states:      make(map[string]*LoginState),
		stateExpiry: ttl,
		stopCleanup: make(chan struct{}),
	}

	// Background cleanup catches states that were minted but whose
	// callback never arrived.
	go ss.cleanupLoop()

	return ss
}

// Generate creates a new single-use state bound to the given provider and
// returns the encoded state string to include in the authorization URL.
func (ss *StateStore) Generate(provider string) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	state := &LoginState{
		Provider:  provider,
		Nonce:     base64.URLEncoding.EncodeToString(nonce),
		CreatedAt: time.Now(),
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	encoded := base64.URLEncoding.EncodeToString(stateJSON)

	ss.mu.Lock()
	ss.states[state.Nonce] = state
	ss.mu.Unlock()

	logging.Debug("Identity", "Generated login state for provider=%s", provider)
	return encoded, nil
}

// Consume validates an encoded state from a callback and removes it from
// the store. Returns nil if the state is malformed, unknown, expired, or
// already consumed.
func (ss *StateStore) Consume(encoded string) *LoginState {
	stateJSON, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		logging.Warn("Identity", "Failed to decode login state: %v", err)
		return nil
	}

	var state LoginState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		logging.Warn("Identity", "Failed to unmarshal login state: %v", err)
		return nil
	}

	ss.mu.Lock()
	stored, exists := ss.states[state.Nonce]
	if exists {
		delete(ss.states, state.Nonce)
	}
	ss.mu.Unlock()

	if !exists {
		logging.Warn("Identity", "Login state not found (replayed or never issued)")
		return nil
	}

	if time.Since(stored.CreatedAt) > ss.stateExpiry {
		logging.Warn("Identity", "Login state expired: age=%v", time.Since(stored.CreatedAt))
		return nil
	}

	return stored
}

// Stop stops the background cleanup goroutine.
func (ss *StateStore) Stop() {
	ss.stopOnce.Do(func() {
		close(ss.stopCleanup)
	})
}

func (ss *StateStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.cleanup()
		case <-ss.stopCleanup:
			return
		}
	}
}

func (ss *StateStore) cleanup() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	count := 0
	for nonce, state := range ss.states {
		if time.Since(state.CreatedAt) > ss.stateExpiry {
			delete(ss.states, nonce)
			count++
		}
	}
	if count > 0 {
		logging.Debug("Identity", "Cleaned up %d expired login states", count)
	}
}
