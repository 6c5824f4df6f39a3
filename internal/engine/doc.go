// Package engine provides the container engine client the orchestrator
// uses to provision per-user backend instances.
//
// Containers are addressed by their deterministic name, carry labels that
// mark them as gateway-owned, and join the configured overlay network with
// a network alias equal to the container name so templated addresses
// resolve inside the network.
//
// The DockerEngine implementation drives the docker (or podman) CLI. All
// operations accept a context and are safe for concurrent use.
package engine
