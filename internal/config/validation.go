package config

import (
	"fmt"
	"net/url"
	"strings"

	"tenantgate/internal/template"
)

// Validate checks the configuration for errors that must be caught at
// startup rather than surfacing on the first request.
func (c Config) Validate() error {
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}

	origin, err := url.Parse(c.Gateway.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("gateway.origin %q is not a valid absolute URL", c.Gateway.Origin)
	}

	if !strings.HasPrefix(c.Gateway.CallbackPath, "/") {
		return fmt.Errorf("gateway.callbackPath %q must start with /", c.Gateway.CallbackPath)
	}
	switch c.Gateway.CallbackPath {
	case "/", "/auth/login", "/auth/logout", "/healthz":
		return fmt.Errorf("gateway.callbackPath %q collides with a reserved gateway route", c.Gateway.CallbackPath)
	}

	if !c.Providers.GitHub.Configured() && !c.Providers.Google.Configured() {
		return fmt.Errorf("no identity provider configured: set TENANTGATE_GITHUB_CLIENT_ID/SECRET or TENANTGATE_GOOGLE_CLIENT_ID/SECRET")
	}
	if c.Providers.StateTTL <= 0 {
		return fmt.Errorf("providers.stateTTL must be positive")
	}

	switch c.Sessions.Store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.Sessions.RedisURL == "" {
			return fmt.Errorf("sessions.store is redis but no redis URL configured")
		}
	default:
		return fmt.Errorf("sessions.store %q is not supported (memory, redis)", c.Sessions.Store)
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive")
	}

	// Templates are compiled here once; a malformed pattern never reaches
	// the request path.
	if _, err := template.Compile(c.Backend.NameTemplate); err != nil {
		return fmt.Errorf("backend.nameTemplate: %w", err)
	}
	if _, err := template.Compile(c.Backend.AddressTemplate); err != nil {
		return fmt.Errorf("backend.addressTemplate: %w", err)
	}

	switch c.Backend.Engine {
	case "docker", "podman":
	default:
		return fmt.Errorf("backend.engine %q is not supported (docker, podman)", c.Backend.Engine)
	}

	if c.Backend.Image == "" {
		return fmt.Errorf("backend.image must be set")
	}
	if c.Backend.ProvisionTimeout <= 0 {
		return fmt.Errorf("backend.provisionTimeout must be positive")
	}
	if c.Backend.ProbeInterval <= 0 {
		return fmt.Errorf("backend.probeInterval must be positive")
	}
	if c.Backend.ProbeAttempts < 1 {
		return fmt.Errorf("backend.probeAttempts must be at least 1")
	}
	if c.Backend.IdleTimeout <= 0 {
		return fmt.Errorf("backend.idleTimeout must be positive")
	}
	if c.Backend.ProbePath != "" && !strings.HasPrefix(c.Backend.ProbePath, "/") {
		return fmt.Errorf("backend.probePath %q must start with /", c.Backend.ProbePath)
	}

	return nil
}
