package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" or "5m" parse
// directly into config fields.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level configuration structure for tenantgate.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Providers ProvidersConfig `yaml:"providers"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Backend   BackendConfig   `yaml:"backend"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig configures the inbound HTTP surface.
type GatewayConfig struct {
	Host         string `yaml:"host,omitempty"`         // Host to bind to (default: 0.0.0.0)
	Port         int    `yaml:"port,omitempty"`         // Port to listen on (default: 8080)
	Origin       string `yaml:"origin,omitempty"`       // Externally visible origin, e.g. https://gw.example.com
	CallbackPath string `yaml:"callbackPath,omitempty"` // OAuth callback path (default: /auth/callback)
}

// ProviderCredentials holds one identity provider's OAuth client credentials.
// Credentials are supplied via environment variables, never via the YAML file.
type ProviderCredentials struct {
	ClientID     string `yaml:"-"`
	ClientSecret string `yaml:"-"`
}

// Configured reports whether both credential halves are present.
func (p ProviderCredentials) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// ProvidersConfig configures the identity providers used for login.
type ProvidersConfig struct {
	GitHub   ProviderCredentials `yaml:"github,omitempty"`
	Google   ProviderCredentials `yaml:"google,omitempty"`
	StateTTL Duration            `yaml:"stateTTL,omitempty"` // Anti-forgery state lifetime (default: 10m)
}

// SessionStoreKind selects the session store implementation.
type SessionStoreKind string

const (
	SessionStoreMemory SessionStoreKind = "memory"
	SessionStoreRedis  SessionStoreKind = "redis"
)

// SessionsConfig configures session issuance and storage.
type SessionsConfig struct {
	TTL      Duration         `yaml:"ttl,omitempty"`      // Session lifetime (default: 24h)
	Sliding  bool             `yaml:"sliding,omitempty"`  // Extend the deadline on each validated request
	Store    SessionStoreKind `yaml:"store,omitempty"`    // memory or redis (default: memory)
	RedisURL string           `yaml:"redisURL,omitempty"` // Required when store is redis
}

// BackendConfig configures per-user backend provisioning.
type BackendConfig struct {
	Image           string            `yaml:"image,omitempty"`           // Container image to run per user
	NameTemplate    string            `yaml:"nameTemplate,omitempty"`    // Instance name pattern with {instance}
	AddressTemplate string            `yaml:"addressTemplate,omitempty"` // Overlay address pattern with {instance}
	Network         string            `yaml:"network,omitempty"`         // Overlay network containers join
	Engine          string            `yaml:"engine,omitempty"`          // docker or podman (default: docker)
	Env             map[string]string `yaml:"env,omitempty"`             // Extra env passed to each backend

	ProvisionTimeout Duration `yaml:"provisionTimeout,omitempty"` // Hard cap on a provisioning attempt (default: 90s)
	ProbePath        string   `yaml:"probePath,omitempty"`        // HTTP health path; empty means TCP reachability
	ProbeInterval    Duration `yaml:"probeInterval,omitempty"`    // Base backoff interval between probes (default: 500ms)
	ProbeAttempts    int      `yaml:"probeAttempts,omitempty"`    // Max probe attempts per provisioning run (default: 20)
	IdleTimeout      Duration `yaml:"idleTimeout,omitempty"`      // Idle eviction threshold (default: 30m)
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // debug, info, warn, error (default: info)
}

// Default returns the default configuration. Provider credentials are left
// empty; they only ever come from the environment.
func Default() Config {
	return Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			Origin:       "http://localhost:8080",
			CallbackPath: "/auth/callback",
		},
		Providers: ProvidersConfig{
			StateTTL: Duration(10 * time.Minute),
		},
		Sessions: SessionsConfig{
			TTL:   Duration(24 * time.Hour),
			Store: SessionStoreMemory,
		},
		Backend: BackendConfig{
			Image:            "ghcr.io/tenantgate/backend:latest",
			NameTemplate:     "gather-{instance}",
			AddressTemplate:  "{instance}:8080",
			Network:          "tenantgate_internal-net",
			Engine:           "docker",
			ProvisionTimeout: Duration(90 * time.Second),
			ProbeInterval:    Duration(500 * time.Millisecond),
			ProbeAttempts:    20,
			IdleTimeout:      Duration(30 * time.Minute),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
