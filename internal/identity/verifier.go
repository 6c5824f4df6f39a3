package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/oauth2"

	"tenantgate/pkg/logging"
)

// Verifier completes logins against the configured identity providers.
// It owns the anti-forgery state store; a state minted by AuthURL must be
// presented exactly once to CompleteLogin within its lifetime.
type Verifier struct {
	providers  map[string]*Provider
	states     *StateStore
	httpClient *http.Client
}

// NewVerifier creates a verifier for the given providers. stateTTL bounds
// how long a login redirect stays valid.
func NewVerifier(providers []*Provider, stateTTL time.Duration) *Verifier {
	byName := make(map[string]*Provider, len(providers))
	for _, p := range providers {
		byName[p.Name] = p
	}
	return &Verifier{
		providers:  byName,
		states:     NewStateStore(stateTTL),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Providers returns the configured provider names, sorted.
func (v *Verifier) Providers() []string {
	names := make([]string, 0, len(v.providers))
	for name := range v.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AuthURL builds the provider redirect URL for a new login attempt,
// minting a fresh single-use state.
func (v *Verifier) AuthURL(provider string) (string, error) {
	p, ok := v.providers[provider]
	if !ok {
		return "", fmt.Errorf("unknown identity provider %q", provider)
	}

	state, err := v.states.Generate(provider)
	if err != nil {
		return "", fmt.Errorf("generating login state: %w", err)
	}

	return p.OAuth.AuthCodeURL(state), nil
}

// CompleteLogin exchanges an OAuth callback for a verified user identity.
// The state parameter is validated and consumed first: a forged, expired,
// or replayed callback never reaches the provider. The provider is the one
// the state was minted for; the callback carries no provider of its own.
func (v *Verifier) CompleteLogin(ctx context.Context, code, state string) (UserIdentity, error) {
	stored := v.states.Consume(state)
	if stored == nil {
		return UserIdentity{}, &AuthError{Reason: ReasonStateMismatch}
	}

	p, ok := v.providers[stored.Provider]
	if !ok {
		logging.Warn("Identity", "Login state names unconfigured provider %q", stored.Provider)
		return UserIdentity{}, &AuthError{Reason: ReasonStateMismatch, Provider: stored.Provider}
	}

	// Route the oauth2 exchange through our HTTP client.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)

	token, err := p.OAuth.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return UserIdentity{}, &AuthError{Reason: ReasonInvalidCode, Provider: p.Name, Err: err}
		}
		return UserIdentity{}, &AuthError{Reason: ReasonProviderUnreachable, Provider: p.Name, Err: err}
	}

	user, err := v.fetchIdentity(ctx, p, token)
	if err != nil {
		return UserIdentity{}, err
	}

	logging.Info("Identity", "Completed login for user=%s", user.Key())
	return user, nil
}

// Stop releases the verifier's background resources.
func (v *Verifier) Stop() {
	v.states.Stop()
}

func (v *Verifier) fetchIdentity(ctx context.Context, p *Provider, token *oauth2.Token) (UserIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return UserIdentity{}, &AuthError{Reason: ReasonProviderUnreachable, Provider: p.Name, Err: err}
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return UserIdentity{}, &AuthError{Reason: ReasonProviderUnreachable, Provider: p.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UserIdentity{}, &AuthError{
			Reason:   ReasonProviderUnreachable,
			Provider: p.Name,
			Err:      fmt.Errorf("userinfo endpoint returned %s", resp.Status),
		}
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return UserIdentity{}, &AuthError{Reason: ReasonProviderUnreachable, Provider: p.Name, Err: err}
	}

	user, err := p.identity(claims)
	if err != nil {
		return UserIdentity{}, &AuthError{Reason: ReasonProviderUnreachable, Provider: p.Name, Err: err}
	}
	return user, nil
}
