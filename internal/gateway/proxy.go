package gateway

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"tenantgate/internal/identity"
	"tenantgate/internal/orchestrator"
	"tenantgate/pkg/logging"
)

const (
	// userHeader carries the gateway-asserted identity key to the backend.
	// Inbound values are always discarded.
	userHeader = "X-Tenantgate-User"

	// errorHeader distinguishes gateway-generated failures from backend
	// responses.
	errorHeader = "X-Tenantgate-Error"
)

// BackendResolver maps an identity to a dialable backend address.
type BackendResolver interface {
	Resolve(ctx context.Context, id identity.UserIdentity) (string, error)
}

// BackendTracker receives liveness signals from the proxy.
type BackendTracker interface {
	Touch(id identity.UserIdentity)
	MarkUnhealthy(id identity.UserIdentity)
}

// backendProxy forwards authenticated requests to per-user backends.
type backendProxy struct {
	resolver  BackendResolver
	tracker   BackendTracker
	transport http.RoundTripper
	errorLog  *log.Logger
}

func newBackendProxy(resolver BackendResolver, tracker BackendTracker) *backendProxy {
	return &backendProxy{
		resolver: resolver,
		tracker:  tracker,
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 0, // backends may stream indefinitely
		},
		errorLog: log.New(proxyLogWriter{}, "", 0),
	}
}

// proxyLogWriter routes httputil.ReverseProxy's internal log lines (notably
// mid-stream copy errors, which abort the response) into our logger.
type proxyLogWriter struct{}

func (proxyLogWriter) Write(p []byte) (int, error) {
	logging.Warn(gatewaySubsystem, "%s", strings.TrimSpace(string(p)))
	return len(p), nil
}

// serve resolves the user's backend and forwards the request.
func (p *backendProxy) serve(w http.ResponseWriter, r *http.Request, user identity.UserIdentity) {
	addr, err := p.resolver.Resolve(r.Context(), user)
	if err != nil {
		p.provisionFailed(w, user, err)
		return
	}
	p.forward(w, r, user, addr, canRetry(r))
}

// canRetry reports whether the request can be safely re-sent: only bodyless
// requests, since a consumed body cannot be replayed.
func canRetry(r *http.Request) bool {
	return r.ContentLength == 0 && len(r.TransferEncoding) == 0
}

func (p *backendProxy) forward(w http.ResponseWriter, r *http.Request, user identity.UserIdentity, addr string, retry bool) {
	target := &url.URL{Scheme: "http", Host: addr}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = pr.In.Host
			pr.SetXForwarded()
			stripSessionCookie(pr.Out)
			pr.Out.Header.Set(userHeader, user.Key())
		},
		Transport: p.transport,
		// Stream immediately; server-sent events and long polls must
		// not sit in a buffer.
		FlushInterval: -1,
		ErrorLog:      p.errorLog,
		ModifyResponse: func(*http.Response) error {
			p.tracker.Touch(user)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			p.upstreamError(w, r, user, err, retry)
		},
	}

	rp.ServeHTTP(w, r)
}

// upstreamError handles a failure before any response byte reached the
// client. A connect failure on a replayable request triggers exactly one
// re-resolution: the instance may have been evicted between Resolve and the
// dial.
func (p *backendProxy) upstreamError(w http.ResponseWriter, r *http.Request, user identity.UserIdentity, err error, retry bool) {
	if errors.Is(err, context.Canceled) {
		// Client went away; nothing sensible left to write.
		return
	}

	if retry && isConnectError(err) {
		logging.Warn(gatewaySubsystem, "Connect to backend for %s failed, re-resolving: %v", user.Key(), err)
		p.tracker.MarkUnhealthy(user)

		addr, rerr := p.resolver.Resolve(r.Context(), user)
		if rerr != nil {
			p.provisionFailed(w, user, rerr)
			return
		}
		p.forward(w, r, user, addr, false)
		return
	}

	logging.Error(gatewaySubsystem, err, "Upstream failure for %s", user.Key())
	w.Header().Set(errorHeader, "upstream")
	http.Error(w, "upstream error", http.StatusBadGateway)
}

// provisionFailed maps a resolution failure to 503: the gateway is fine, the
// user's backend is not.
func (p *backendProxy) provisionFailed(w http.ResponseWriter, user identity.UserIdentity, err error) {
	logging.Error(gatewaySubsystem, err, "No backend available for %s", user.Key())

	value := "backend_unavailable"
	var perr *orchestrator.ProvisionError
	if errors.As(err, &perr) {
		value = string(perr.Reason)
	}
	w.Header().Set(errorHeader, value)
	http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
}

// isConnectError reports whether the upstream failure happened at the
// network layer, as opposed to inside the backend's HTTP handling.
func isConnectError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// stripSessionCookie removes the gateway session cookie at the trust
// boundary; the backend never sees the token. Other cookies pass through.
func stripSessionCookie(out *http.Request) {
	cookies := out.Cookies()
	out.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == SessionCookie {
			continue
		}
		out.AddCookie(c)
	}
}
