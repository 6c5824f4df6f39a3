package config

import (
	"errors"
	"fmt"
	"os"

	"tenantgate/pkg/logging"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file path used when none is given.
const DefaultConfigFile = "/etc/tenantgate/config.yaml"

// Load reads configuration from the given YAML file, overlays environment
// variables, and validates the result. A missing file is not an error; the
// defaults plus environment are used.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("Config", "No config file at %s, using defaults", path)
	case err != nil:
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		logging.Info("Config", "Loaded configuration from %s", path)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays TENANTGATE_* environment variables onto the config.
// Provider credentials have no YAML representation, so the environment is
// their only source.
func applyEnv(cfg *Config) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"TENANTGATE_ORIGIN", &cfg.Gateway.Origin},
		{"TENANTGATE_HOST", &cfg.Gateway.Host},
		{"TENANTGATE_CALLBACK_PATH", &cfg.Gateway.CallbackPath},
		{"TENANTGATE_GITHUB_CLIENT_ID", &cfg.Providers.GitHub.ClientID},
		{"TENANTGATE_GITHUB_CLIENT_SECRET", &cfg.Providers.GitHub.ClientSecret},
		{"TENANTGATE_GOOGLE_CLIENT_ID", &cfg.Providers.Google.ClientID},
		{"TENANTGATE_GOOGLE_CLIENT_SECRET", &cfg.Providers.Google.ClientSecret},
		{"TENANTGATE_REDIS_URL", &cfg.Sessions.RedisURL},
		{"TENANTGATE_BACKEND_IMAGE", &cfg.Backend.Image},
		{"TENANTGATE_BACKEND_NETWORK", &cfg.Backend.Network},
		{"TENANTGATE_LOG_LEVEL", &cfg.Logging.Level},
	}

	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.target = v
		}
	}

	if v := os.Getenv("TENANTGATE_SESSION_STORE"); v != "" {
		cfg.Sessions.Store = SessionStoreKind(v)
	}
}
