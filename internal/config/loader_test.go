package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withProviderEnv(t *testing.T) {
	t.Setenv("TENANTGATE_GITHUB_CLIENT_ID", "client-id")
	t.Setenv("TENANTGATE_GITHUB_CLIENT_SECRET", "client-secret")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	withProviderEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, "/auth/callback", cfg.Gateway.CallbackPath)
	assert.Equal(t, SessionStoreMemory, cfg.Sessions.Store)
	assert.Equal(t, 24*time.Hour, cfg.Sessions.TTL.Std())
	assert.Equal(t, "gather-{instance}", cfg.Backend.NameTemplate)
	assert.Equal(t, "client-id", cfg.Providers.GitHub.ClientID)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	withProviderEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gateway:
  port: 9000
  origin: https://gw.example.com
sessions:
  ttl: 1h
  sliding: true
backend:
  nameTemplate: "tenant-{instance}"
  provisionTimeout: 2m
  probeAttempts: 5
  idleTimeout: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, "https://gw.example.com", cfg.Gateway.Origin)
	assert.Equal(t, time.Hour, cfg.Sessions.TTL.Std())
	assert.True(t, cfg.Sessions.Sliding)
	assert.Equal(t, "tenant-{instance}", cfg.Backend.NameTemplate)
	assert.Equal(t, 2*time.Minute, cfg.Backend.ProvisionTimeout.Std())
	assert.Equal(t, 5, cfg.Backend.ProbeAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Backend.IdleTimeout.Std())

	// Untouched sections keep their defaults.
	assert.Equal(t, "{instance}:8080", cfg.Backend.AddressTemplate)
	assert.Equal(t, "docker", cfg.Backend.Engine)
}

func TestLoadEnvironmentWinsOverYAML(t *testing.T) {
	withProviderEnv(t)
	t.Setenv("TENANTGATE_ORIGIN", "https://env.example.com")
	t.Setenv("TENANTGATE_LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gateway:
  origin: https://yaml.example.com
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Gateway.Origin)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMalformedYAMLFails(t *testing.T) {
	withProviderEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMalformedDurationFails(t *testing.T) {
	withProviderEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sessions:\n  ttl: alot\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Providers.GitHub = ProviderCredentials{ClientID: "id", ClientSecret: "secret"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Gateway.Port = 0 },
			wantErr: "gateway.port",
		},
		{
			name:    "relative origin",
			mutate:  func(c *Config) { c.Gateway.Origin = "gw.example.com" },
			wantErr: "gateway.origin",
		},
		{
			name:    "callback path shadows the proxy root",
			mutate:  func(c *Config) { c.Gateway.CallbackPath = "/" },
			wantErr: "reserved gateway route",
		},
		{
			name:    "callback path shadows a fixed route",
			mutate:  func(c *Config) { c.Gateway.CallbackPath = "/healthz" },
			wantErr: "reserved gateway route",
		},
		{
			name:    "no providers",
			mutate:  func(c *Config) { c.Providers.GitHub = ProviderCredentials{} },
			wantErr: "no identity provider",
		},
		{
			name:    "redis store without URL",
			mutate:  func(c *Config) { c.Sessions.Store = SessionStoreRedis },
			wantErr: "redis",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Sessions.Store = "postgres" },
			wantErr: "not supported",
		},
		{
			name:    "name template without placeholder",
			mutate:  func(c *Config) { c.Backend.NameTemplate = "static-name" },
			wantErr: "nameTemplate",
		},
		{
			name:    "address template with two placeholders",
			mutate:  func(c *Config) { c.Backend.AddressTemplate = "{instance}-{instance}:80" },
			wantErr: "addressTemplate",
		},
		{
			name:    "unknown engine",
			mutate:  func(c *Config) { c.Backend.Engine = "lxc" },
			wantErr: "engine",
		},
		{
			name:    "zero probe attempts",
			mutate:  func(c *Config) { c.Backend.ProbeAttempts = 0 },
			wantErr: "probeAttempts",
		},
		{
			name:    "probe path without slash",
			mutate:  func(c *Config) { c.Backend.ProbePath = "healthz" },
			wantErr: "probePath",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
