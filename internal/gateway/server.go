package gateway

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tenantgate/internal/config"
	"tenantgate/internal/identity"
	"tenantgate/internal/session"
	"tenantgate/pkg/logging"
)

const gatewaySubsystem = "Gateway"

// SessionCookie is the name of the gateway session cookie.
const SessionCookie = "tenantgate_session"

// AuthVerifier is the identity surface the gateway needs.
type AuthVerifier interface {
	Providers() []string
	AuthURL(provider string) (string, error)
	CompleteLogin(ctx context.Context, code, state string) (identity.UserIdentity, error)
}

// Server serves the auth endpoints and proxies everything else to the
// caller's backend instance.
type Server struct {
	cfg      config.Config
	verifier AuthVerifier
	sessions session.Store
	proxy    *backendProxy

	secureCookies bool
	httpSrv       *http.Server
}

// New wires the gateway's HTTP surface. resolver and tracker are usually the
// same orchestrator-backed pair from the serve command.
func New(cfg config.Config, verifier AuthVerifier, sessions session.Store, resolver BackendResolver, tracker BackendTracker) *Server {
	s := &Server{
		cfg:           cfg,
		verifier:      verifier,
		sessions:      sessions,
		proxy:         newBackendProxy(resolver, tracker),
		secureCookies: strings.HasPrefix(cfg.Gateway.Origin, "https://"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/logout", s.handleLogout)
	mux.HandleFunc("/healthz", s.handleHealthz)
	// Config validation rejects callback paths that collide with the
	// routes above, so this registration cannot conflict.
	mux.HandleFunc(cfg.Gateway.CallbackPath, s.handleCallback)
	mux.HandleFunc("/", s.handleProxy)

	s.httpSrv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port)),
		Handler:           withRequestID(withAccessLog(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the full middleware-wrapped handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	logging.Info(gatewaySubsystem, "Listening on %s (origin %s)", s.httpSrv.Addr, s.cfg.Gateway.Origin)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

var pickerTemplate = template.Must(template.New("picker").Parse(`<!DOCTYPE html>
<html><head><title>Sign in</title></head><body>
<h1>Sign in</h1>
<ul>
{{- range . }}
<li><a href="/auth/login?provider={{ . }}">Continue with {{ . }}</a></li>
{{- end }}
</ul>
</body></html>
`))

// handleLogin starts a login. With a single configured provider the user is
// sent straight to it; with several and no ?provider= a picker is rendered.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	provider := r.URL.Query().Get("provider")
	providers := s.verifier.Providers()
	if provider == "" {
		if len(providers) != 1 {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			if err := pickerTemplate.Execute(w, providers); err != nil {
				logging.Error(gatewaySubsystem, err, "Rendering provider picker failed")
			}
			return
		}
		provider = providers[0]
	}

	authURL, err := s.verifier.AuthURL(provider)
	if err != nil {
		http.Error(w, fmt.Sprintf("unknown identity provider %q", provider), http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback finishes a login: state and code are exchanged for a
// verified identity, a session is minted, and the cookie is set.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		logging.Warn(gatewaySubsystem, "Provider returned error on callback: %s", errParam)
		s.loginFailed(w, fmt.Sprintf("the identity provider reported: %s", errParam))
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	user, err := s.verifier.CompleteLogin(r.Context(), code, state)
	if err != nil {
		var authErr *identity.AuthError
		if errors.As(err, &authErr) && authErr.Reason == identity.ReasonProviderUnreachable {
			logging.Error(gatewaySubsystem, err, "Login failed: provider unreachable")
			http.Error(w, "identity provider unreachable", http.StatusBadGateway)
			return
		}
		logging.Warn(gatewaySubsystem, "Login rejected: %v", err)
		s.loginFailed(w, "the login could not be verified")
		return
	}

	token, err := s.sessions.Create(r.Context(), user)
	if err != nil {
		logging.Error(gatewaySubsystem, err, "Creating session for %s failed", user.Key())
		http.Error(w, "session store unavailable", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, s.sessionCookie(token, s.cfg.Sessions.TTL.Std()))
	logging.Info(gatewaySubsystem, "User %s logged in (token %s)", user.Key(), logging.TruncateToken(token))
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout revokes the session and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		if err := s.sessions.Revoke(r.Context(), cookie.Value); err != nil {
			logging.Error(gatewaySubsystem, err, "Revoking session failed")
		}
	}

	http.SetCookie(w, s.sessionCookie("", -time.Hour))
	http.Redirect(w, r, "/auth/login", http.StatusFound)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// handleProxy authenticates the request and hands it to the proxy core.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		s.deny(w, r, session.ReasonMissing)
		return
	}

	user, err := s.sessions.Validate(r.Context(), cookie.Value)
	if err != nil {
		var unauth *session.UnauthenticatedError
		if errors.As(err, &unauth) {
			s.deny(w, r, unauth.Reason)
			return
		}
		// Store outage is the gateway's fault, not the caller's.
		logging.Error(gatewaySubsystem, err, "Session validation failed")
		http.Error(w, "session store unavailable", http.StatusInternalServerError)
		return
	}

	s.proxy.serve(w, r, user)
}

// deny rejects an unauthenticated request: browsers are redirected to the
// login page, API clients get a plain 401. The stale cookie is cleared
// either way.
func (s *Server) deny(w http.ResponseWriter, r *http.Request, reason session.UnauthReason) {
	http.SetCookie(w, s.sessionCookie("", -time.Hour))
	if wantsHTML(r) {
		http.Redirect(w, r, "/auth/login", http.StatusFound)
		return
	}
	w.Header().Set("WWW-Authenticate", "Cookie")
	http.Error(w, fmt.Sprintf("unauthenticated: session %s", reason), http.StatusUnauthorized)
}

// loginFailed renders a minimal restartable failure page.
func (s *Server) loginFailed(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>Login failed</title></head><body>
<h1>Login failed</h1>
<p>%s</p>
<p><a href="/auth/login">Try again</a></p>
</body></html>
`, template.HTMLEscapeString(message))
}

func (s *Server) sessionCookie(token string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		c.MaxAge = -1
	} else if maxAge > 0 {
		c.MaxAge = int(maxAge.Seconds())
	}
	return c
}

// wantsHTML reports whether the client is a browser navigation rather than
// an API call.
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
