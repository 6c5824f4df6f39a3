package identity

import (
	"fmt"
)

// UserIdentity is the verified identity returned by an identity provider.
// The combination of provider and subject is the stable opaque key used
// everywhere downstream; the remaining fields are informational.
type UserIdentity struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
	Login    string `json:"login,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Key returns the stable user key combining subject and provider.
func (u UserIdentity) Key() string {
	return u.Subject + "." + u.Provider
}

// AuthReason classifies login failures.
type AuthReason string

const (
	// ReasonInvalidCode means the provider rejected the authorization code.
	ReasonInvalidCode AuthReason = "invalid_code"

	// ReasonProviderUnreachable means the provider could not be contacted.
	ReasonProviderUnreachable AuthReason = "provider_unreachable"

	// ReasonStateMismatch means the anti-forgery state was missing, expired,
	// already consumed, or bound to a different provider.
	ReasonStateMismatch AuthReason = "state_mismatch"
)

// AuthError is returned when a login attempt fails. The user recovers by
// restarting the login flow.
type AuthError struct {
	Reason   AuthReason
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login via %s failed (%s): %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("login via %s failed (%s)", e.Provider, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
