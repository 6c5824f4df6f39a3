package engine

import (
	"context"
	"time"
)

// ContainerEngine defines the interface for the container engine the
// orchestrator provisions backend instances on. Containers are addressed
// by their deterministic name.
type ContainerEngine interface {
	// CreateContainer creates a container, replacing any stale container
	// holding the same name. The container is not started.
	CreateContainer(ctx context.Context, config ContainerConfig) (string, error)

	// StartContainer starts a created or stopped container.
	StartContainer(ctx context.Context, name string) error

	// StopContainer stops a running container.
	StopContainer(ctx context.Context, name string) error

	// RemoveContainer force-removes a container.
	RemoveContainer(ctx context.Context, name string) error

	// InspectContainer returns the current status of a container.
	InspectContainer(ctx context.Context, name string) (ContainerStatus, error)

	// ContainerExists reports whether a container with the name exists.
	ContainerExists(ctx context.Context, name string) (bool, error)
}

// ContainerConfig holds configuration for creating a backend container.
type ContainerConfig struct {
	Name     string            // Container name (deterministic per user)
	Image    string            // Container image
	Hostname string            // Hostname inside the overlay network
	Env      map[string]string // Environment variables
	Labels   map[string]string // Labels marking gateway-owned containers
	Volumes  []string          // Volume mounts (host:container)
}

// ContainerStatus is the subset of inspect output the orchestrator needs.
type ContainerStatus struct {
	ID        string
	Name      string
	Running   bool
	StartedAt time.Time
	IPAddress string // Address on the configured overlay network, if attached
}
