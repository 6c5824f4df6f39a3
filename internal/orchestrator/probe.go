package orchestrator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// probeTimeout bounds a single probe attempt.
const probeTimeout = 2 * time.Second

// maxProbeBackoff caps the interval between probe attempts.
const maxProbeBackoff = 5 * time.Second

// Prober checks whether a backend instance answers at an address.
type Prober interface {
	Probe(ctx context.Context, address string) error
}

// httpProber probes with an HTTP GET against a fixed path. Any response
// below 500 counts as healthy: the backend is up even if the probe path
// itself needs authentication.
type httpProber struct {
	path   string
	client *http.Client
}

func (p *httpProber) Probe(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+address+p.path, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", address, resp.StatusCode)
	}
	return nil
}

// tcpProber probes with a plain TCP dial, used when no probe path is
// configured.
type tcpProber struct {
	dialer *net.Dialer
}

func (p *tcpProber) Probe(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("probe %s: %w", address, err)
	}
	return conn.Close()
}

// newProber selects the probe policy: HTTP when a path is configured, a TCP
// reachability check otherwise.
func newProber(probePath string) Prober {
	if probePath != "" {
		return &httpProber{
			path: probePath,
			client: &http.Client{
				// Redirects from the probe path still mean the
				// backend is serving.
				CheckRedirect: func(*http.Request, []*http.Request) error {
					return http.ErrUseLastResponse
				},
			},
		}
	}
	return &tcpProber{dialer: &net.Dialer{}}
}
