package engine

import (
	"fmt"
	"strings"
)

// EngineType defines the type of container engine.
type EngineType string

const (
	EngineTypeDocker EngineType = "docker"
	EngineTypePodman EngineType = "podman"
)

// NewContainerEngine creates a container engine client based on the
// configured type. Podman ships a Docker-compatible CLI, so both types use
// the same implementation with a different binary.
func NewContainerEngine(engineType, network string) (ContainerEngine, error) {
	switch EngineType(strings.ToLower(engineType)) {
	case EngineTypeDocker, "":
		return NewDockerEngine("docker", network)
	case EngineTypePodman:
		return NewDockerEngine("podman", network)
	default:
		return nil, fmt.Errorf("unsupported container engine: %s", engineType)
	}
}
