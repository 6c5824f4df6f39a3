// Package logging provides structured logging for tenantgate, built on Go's
// standard slog package.
//
// All log entries carry a subsystem identifier for categorization and
// filtering, alongside the level, timestamp, and message:
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//	logging.Info("Orchestrator", "Provisioned backend for %s", identity)
//	logging.Error("Gateway", err, "Upstream connection failed")
//
// Subsystems used throughout the gateway: Bootstrap, Config, Identity,
// Session, Engine, Orchestrator, Resolver, Gateway.
//
// The package is safe for concurrent use; level filtering happens at the
// handler so filtered-out messages cost no allocation.
package logging
