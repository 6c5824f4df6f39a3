package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantgate/internal/config"
	"tenantgate/internal/identity"
	"tenantgate/internal/session"
)

type fakeVerifier struct {
	providers []string
	authURL   string
	user      identity.UserIdentity
	loginErr  error
}

func (f *fakeVerifier) Providers() []string {
	return f.providers
}

func (f *fakeVerifier) AuthURL(provider string) (string, error) {
	for _, p := range f.providers {
		if p == provider {
			return f.authURL, nil
		}
	}
	return "", errors.New("unknown provider")
}

func (f *fakeVerifier) CompleteLogin(_ context.Context, code, state string) (identity.UserIdentity, error) {
	if f.loginErr != nil {
		return identity.UserIdentity{}, f.loginErr
	}
	return f.user, nil
}

type stubResolver struct {
	mu    sync.Mutex
	addrs []string
	err   error
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, _ identity.UserIdentity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.addrs) == 0 {
		return "", errors.New("no backend address configured")
	}
	addr := s.addrs[0]
	if len(s.addrs) > 1 {
		s.addrs = s.addrs[1:]
	}
	return addr, nil
}

func (s *stubResolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubTracker struct {
	mu        sync.Mutex
	touches   int
	unhealthy int
}

func (s *stubTracker) Touch(identity.UserIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches++
}

func (s *stubTracker) MarkUnhealthy(identity.UserIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unhealthy++
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Sessions.TTL = config.Duration(time.Hour)
	return cfg
}

func octocat() identity.UserIdentity {
	return identity.UserIdentity{Provider: "github", Subject: "12345", Login: "octocat"}
}

func newTestServer(t *testing.T, cfg config.Config, v AuthVerifier, store session.Store, res BackendResolver, tr BackendTracker) *Server {
	t.Helper()
	if v == nil {
		v = &fakeVerifier{providers: []string{"github"}, authURL: "https://provider.example.com/authorize?state=x"}
	}
	if store == nil {
		store = session.NewMemoryStore(session.Options{TTL: time.Hour})
		t.Cleanup(store.Stop)
	}
	if res == nil {
		res = &stubResolver{}
	}
	if tr == nil {
		tr = &stubTracker{}
	}
	return New(cfg, v, store, res, tr)
}

func TestLogin_SingleProviderRedirects(t *testing.T) {
	s := newTestServer(t, testConfig(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://provider.example.com/authorize?state=x", rec.Header().Get("Location"))
}

func TestLogin_MultipleProvidersRenderPicker(t *testing.T) {
	v := &fakeVerifier{providers: []string{"github", "google"}}
	s := newTestServer(t, testConfig(), v, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "/auth/login?provider=github")
	assert.Contains(t, body, "/auth/login?provider=google")
}

func TestLogin_UnknownProvider(t *testing.T) {
	s := newTestServer(t, testConfig(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/login?provider=gitlab", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallback_SetsSessionCookie(t *testing.T) {
	store := session.NewMemoryStore(session.Options{TTL: time.Hour})
	t.Cleanup(store.Stop)
	v := &fakeVerifier{providers: []string{"github"}, user: octocat()}
	s := newTestServer(t, testConfig(), v, store, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=xyz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "session cookie must be set")
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure, "plain-http origin must not mark the cookie secure")
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	user, err := store.Validate(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "12345.github", user.Key())
}

func TestCallback_SecureCookieOnHTTPSOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Origin = "https://gw.example.com"
	v := &fakeVerifier{providers: []string{"github"}, user: octocat()}
	s := newTestServer(t, cfg, v, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=xyz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.True(t, cookies[0].Secure)
}

func TestCallback_ProviderError(t *testing.T) {
	s := newTestServer(t, testConfig(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "/auth/login")
}

func TestCallback_StateMismatch(t *testing.T) {
	v := &fakeVerifier{
		providers: []string{"github"},
		loginErr:  &identity.AuthError{Reason: identity.ReasonStateMismatch},
	}
	s := newTestServer(t, testConfig(), v, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=forged", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallback_ProviderUnreachable(t *testing.T) {
	v := &fakeVerifier{
		providers: []string{"github"},
		loginErr:  &identity.AuthError{Reason: identity.ReasonProviderUnreachable, Provider: "github"},
	}
	s := newTestServer(t, testConfig(), v, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=xyz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCallback_MissingParams(t *testing.T) {
	s := newTestServer(t, testConfig(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout_RevokesSession(t *testing.T) {
	store := session.NewMemoryStore(session.Options{TTL: time.Hour})
	t.Cleanup(store.Stop)
	s := newTestServer(t, testConfig(), nil, store, nil, nil)

	token, err := store.Create(context.Background(), octocat())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get("Location"))

	// Cookie cleared.
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, -1, cookies[0].MaxAge)

	// Session revoked immediately.
	_, err = store.Validate(context.Background(), token)
	var unauth *session.UnauthenticatedError
	require.ErrorAs(t, err, &unauth)
}

func TestLogout_RequiresPost(t *testing.T) {
	s := newTestServer(t, testConfig(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProxy_UnauthenticatedBrowserRedirects(t *testing.T) {
	res := &stubResolver{}
	s := newTestServer(t, testConfig(), nil, nil, res, nil)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get("Location"))
	assert.Equal(t, 0, res.callCount(), "unauthenticated requests must not touch the backend")
}

func TestProxy_UnauthenticatedAPIGets401(t *testing.T) {
	res := &stubResolver{}
	s := newTestServer(t, testConfig(), nil, nil, res, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, res.callCount())
}

func TestProxy_ExpiredSessionNoBackendContact(t *testing.T) {
	store := session.NewMemoryStore(session.Options{TTL: time.Nanosecond})
	t.Cleanup(store.Stop)
	res := &stubResolver{}
	s := newTestServer(t, testConfig(), nil, store, res, nil)

	token, err := store.Create(context.Background(), octocat())
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, res.callCount())

	// The stale cookie is cleared so the browser stops sending it.
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, testConfig(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestRequestIDAssigned(t *testing.T) {
	s := newTestServer(t, testConfig(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "spoofed")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	id := rec.Header().Get(requestIDHeader)
	assert.NotEmpty(t, id)
	assert.NotEqual(t, "spoofed", id)
}
