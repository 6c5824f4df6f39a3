package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/oauth2"
)

// fakeProviderServer emulates an identity provider's token and userinfo
// endpoints. Codes other than validCode are rejected with a 400.
func fakeProviderServer(t *testing.T, validCode string, claims map[string]interface{}) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != validCode {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(claims)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testProvider(name string, server *httptest.Server, identity func(map[string]interface{}) (UserIdentity, error)) *Provider {
	return &Provider{
		Name: name,
		OAuth: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:  server.URL + "/authorize",
				TokenURL: server.URL + "/token",
			},
			RedirectURL: "http://gw.example.com/auth/callback",
		},
		UserInfoURL: server.URL + "/userinfo",
		identity:    identity,
	}
}

func TestCompleteLogin(t *testing.T) {
	server := fakeProviderServer(t, "good-code", map[string]interface{}{
		"id":    float64(12345),
		"login": "octocat",
		"email": "octo@example.com",
	})
	v := NewVerifier([]*Provider{testProvider("github", server, githubIdentity)}, 10*time.Minute)
	defer v.Stop()

	authURL, err := v.AuthURL("github")
	require.NoError(t, err)
	state := stateFromAuthURL(t, authURL)

	user, err := v.CompleteLogin(context.Background(), "good-code", state)
	require.NoError(t, err)

	assert.Equal(t, "github", user.Provider)
	assert.Equal(t, "12345", user.Subject)
	assert.Equal(t, "octocat", user.Login)
	assert.Equal(t, "12345.github", user.Key())
}

func TestCompleteLogin_InvalidCode(t *testing.T) {
	server := fakeProviderServer(t, "good-code", nil)
	v := NewVerifier([]*Provider{testProvider("github", server, githubIdentity)}, 10*time.Minute)
	defer v.Stop()

	authURL, err := v.AuthURL("github")
	require.NoError(t, err)
	state := stateFromAuthURL(t, authURL)

	_, err = v.CompleteLogin(context.Background(), "bad-code", state)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ReasonInvalidCode, authErr.Reason)
}

func TestCompleteLogin_StateMismatch(t *testing.T) {
	server := fakeProviderServer(t, "good-code", nil)
	v := NewVerifier([]*Provider{testProvider("github", server, githubIdentity)}, 10*time.Minute)
	defer v.Stop()

	_, err := v.CompleteLogin(context.Background(), "good-code", "never-issued")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ReasonStateMismatch, authErr.Reason)
}

func TestCompleteLogin_StateReplayRejected(t *testing.T) {
	server := fakeProviderServer(t, "good-code", map[string]interface{}{
		"id": float64(1), "login": "a",
	})
	v := NewVerifier([]*Provider{testProvider("github", server, githubIdentity)}, 10*time.Minute)
	defer v.Stop()

	authURL, err := v.AuthURL("github")
	require.NoError(t, err)
	state := stateFromAuthURL(t, authURL)

	_, err = v.CompleteLogin(context.Background(), "good-code", state)
	require.NoError(t, err)

	// Replayed callback with the consumed state must fail.
	_, err = v.CompleteLogin(context.Background(), "good-code", state)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ReasonStateMismatch, authErr.Reason)
}

func TestCompleteLogin_StateRoutesToMintingProvider(t *testing.T) {
	server := fakeProviderServer(t, "good-code", map[string]interface{}{
		"sub":   "g-123",
		"email": "person@example.com",
	})
	v := NewVerifier([]*Provider{
		testProvider("github", server, githubIdentity),
		testProvider("google", server, googleIdentity),
	}, 10*time.Minute)
	defer v.Stop()

	// The callback carries no provider; the state minted for google must
	// route the exchange to google.
	authURL, err := v.AuthURL("google")
	require.NoError(t, err)
	state := stateFromAuthURL(t, authURL)

	user, err := v.CompleteLogin(context.Background(), "good-code", state)
	require.NoError(t, err)
	assert.Equal(t, "google", user.Provider)
	assert.Equal(t, "g-123.google", user.Key())
}

func TestCompleteLogin_ProviderUnreachable(t *testing.T) {
	server := fakeProviderServer(t, "good-code", nil)
	p := testProvider("github", server, githubIdentity)
	server.Close() // provider goes away before the exchange

	v := NewVerifier([]*Provider{p}, 10*time.Minute)
	defer v.Stop()

	authURL, err := v.AuthURL("github")
	require.NoError(t, err)
	state := stateFromAuthURL(t, authURL)

	_, err = v.CompleteLogin(context.Background(), "good-code", state)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ReasonProviderUnreachable, authErr.Reason)
}

func TestAuthURL_UnknownProvider(t *testing.T) {
	v := NewVerifier(nil, 10*time.Minute)
	defer v.Stop()

	_, err := v.AuthURL("gitlab")
	assert.Error(t, err)
}

func TestGoogleIdentity(t *testing.T) {
	user, err := googleIdentity(map[string]interface{}{
		"sub":   "abc-123",
		"email": "person@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123.google", user.Key())
	assert.Equal(t, "person", user.Login)

	_, err = googleIdentity(map[string]interface{}{})
	assert.Error(t, err)
}

// stateFromAuthURL pulls the state query parameter out of an authorization URL.
func stateFromAuthURL(t *testing.T, authURL string) string {
	t.Helper()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}
