package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tenantgate/internal/config"
	"tenantgate/internal/engine"
	"tenantgate/internal/gateway"
	"tenantgate/internal/identity"
	"tenantgate/internal/orchestrator"
	"tenantgate/internal/resolver"
	"tenantgate/internal/session"
	"tenantgate/pkg/logging"
)

// shutdownGrace is how long in-flight requests get to finish on SIGTERM.
const shutdownGrace = 30 * time.Second

// serveConfigFile is the configuration file the gateway loads and watches.
var serveConfigFile string

// serveDebug forces debug logging regardless of the configured level.
var serveDebug bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Starts the tenantgate HTTP server.

The gateway serves the login endpoints (/auth/login, the configured OAuth
callback, /auth/logout), a /healthz liveness probe, and proxies every other
request to the authenticated caller's own backend container, provisioning
it on first use.

Configuration is read from the YAML file given with --config, with
credentials and overrides taken from TENANTGATE_* environment variables.
The file is watched: edits apply without a restart where possible.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigFile, "config", config.DefaultConfigFile, "Path to the configuration file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if serveDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return runGateway(ctx, cfg)
}

// runGateway wires the components and serves until the context is canceled
// or a termination signal arrives.
func runGateway(ctx context.Context, cfg config.Config) error {
	redirectURL := strings.TrimSuffix(cfg.Gateway.Origin, "/") + cfg.Gateway.CallbackPath
	verifier := identity.NewVerifier(identity.BuildProviders(cfg.Providers, redirectURL), cfg.Providers.StateTTL.Std())
	defer verifier.Stop()

	store, err := newSessionStore(cfg.Sessions)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	defer store.Stop()

	eng, err := engine.NewContainerEngine(cfg.Backend.Engine, cfg.Backend.Network)
	if err != nil {
		return fmt.Errorf("connecting to container engine: %w", err)
	}

	orch, err := orchestrator.New(eng, cfg.Backend)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	orch.Start()
	defer orch.Stop()

	res, err := resolver.New(orch, cfg.Backend)
	if err != nil {
		return fmt.Errorf("creating resolver: %w", err)
	}

	srv := gateway.New(cfg, verifier, store, res, orch)

	// Log-level changes apply live; anything structural (ports, stores,
	// backend wiring) needs a restart and is only reported.
	watcher := config.NewWatcher(serveConfigFile, func(next config.Config) {
		logging.Init(logging.ParseLevel(next.Logging.Level), os.Stderr)
		logging.Info("Bootstrap", "Configuration reloaded from %s", serveConfigFile)
	})
	if err := watcher.Start(); err != nil {
		logging.Warn("Bootstrap", "Config watcher disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info("Bootstrap", "Received %s, shutting down", sig)
	case <-ctx.Done():
		logging.Info("Bootstrap", "Context canceled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}

func newSessionStore(cfg config.SessionsConfig) (session.Store, error) {
	opts := session.Options{TTL: cfg.TTL.Std(), Sliding: cfg.Sliding}
	switch cfg.Store {
	case config.SessionStoreRedis:
		return session.NewRedisStore(cfg.RedisURL, opts)
	default:
		return session.NewMemoryStore(opts), nil
	}
}
