package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"tenantgate/pkg/logging"
)

const dockerSubsystem = "Engine"

// DockerEngine implements ContainerEngine using the Docker CLI (or the
// Podman CLI, which is argument-compatible for the operations used here).
type DockerEngine struct {
	binary  string
	network string
}

// execCommandContext is a variable to allow mocking in tests
var execCommandContext = exec.CommandContext

// NewDockerEngine creates an engine client using the given CLI binary.
// network is the overlay network containers are attached to.
func NewDockerEngine(binary, network string) (*DockerEngine, error) {
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%s command not found in PATH: %w", binary, err)
	}

	cmd := execCommandContext(context.Background(), binary, "info")
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, classifyCmdError(binary+" info", err, output)
	}

	return &DockerEngine{binary: binary, network: network}, nil
}

// CreateContainer creates a container with the given configuration. A stale
// container holding the same name (left over from a crash or an eviction
// that could not complete) is force-removed first.
func (d *DockerEngine) CreateContainer(ctx context.Context, config ContainerConfig) (string, error) {
	exists, err := d.ContainerExists(ctx, config.Name)
	if err != nil {
		return "", err
	}
	if exists {
		logging.Info(dockerSubsystem, "Replacing stale container %s", config.Name)
		if err := d.RemoveContainer(ctx, config.Name); err != nil {
			return "", err
		}
	}

	args := []string{"create", "--name", config.Name}
	if config.Hostname != "" {
		args = append(args, "--hostname", config.Hostname)
	}
	if d.network != "" {
		args = append(args, "--network", d.network)
		// A network alias equal to the container name makes the
		// templated address resolvable inside the overlay network.
		args = append(args, "--network-alias", config.Name)
	}
	for _, k := range sortedKeys(config.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, config.Env[k]))
	}
	for _, k := range sortedKeys(config.Labels) {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, config.Labels[k]))
	}
	for _, vol := range config.Volumes {
		args = append(args, "-v", vol)
	}
	args = append(args, config.Image)

	logging.Debug(dockerSubsystem, "Creating container: %s %s", d.binary, strings.Join(args, " "))

	cmd := execCommandContext(ctx, d.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", classifyCmdError("create container "+config.Name, err, output)
	}

	containerID := strings.TrimSpace(string(output))
	logging.Info(dockerSubsystem, "Created container %s with ID %s", config.Name, shortID(containerID))
	return containerID, nil
}

// StartContainer starts a created or stopped container.
func (d *DockerEngine) StartContainer(ctx context.Context, name string) error {
	cmd := execCommandContext(ctx, d.binary, "start", name)
	if output, err := cmd.CombinedOutput(); err != nil {
		return classifyCmdError("start container "+name, err, output)
	}
	logging.Info(dockerSubsystem, "Started container %s", name)
	return nil
}

// StopContainer stops a running container.
func (d *DockerEngine) StopContainer(ctx context.Context, name string) error {
	cmd := execCommandContext(ctx, d.binary, "stop", name)
	if output, err := cmd.CombinedOutput(); err != nil {
		return classifyCmdError("stop container "+name, err, output)
	}
	logging.Info(dockerSubsystem, "Stopped container %s", name)
	return nil
}

// RemoveContainer force-removes a container.
func (d *DockerEngine) RemoveContainer(ctx context.Context, name string) error {
	cmd := execCommandContext(ctx, d.binary, "rm", "-f", name)
	if output, err := cmd.CombinedOutput(); err != nil {
		return classifyCmdError("remove container "+name, err, output)
	}
	return nil
}

// inspectRecord mirrors the inspect JSON fields the gateway reads.
type inspectRecord struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Running   bool   `json:"Running"`
		StartedAt string `json:"StartedAt"`
	} `json:"State"`
	NetworkSettings struct {
		Networks map[string]struct {
			IPAddress string `json:"IPAddress"`
		} `json:"Networks"`
	} `json:"NetworkSettings"`
}

// InspectContainer returns the current status of a container.
func (d *DockerEngine) InspectContainer(ctx context.Context, name string) (ContainerStatus, error) {
	cmd := execCommandContext(ctx, d.binary, "inspect", name)
	output, err := cmd.Output()
	if err != nil {
		var stderr []byte
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = exitErr.Stderr
		}
		return ContainerStatus{}, classifyCmdError("inspect container "+name, err, stderr)
	}

	var records []inspectRecord
	if err := json.Unmarshal(output, &records); err != nil {
		return ContainerStatus{}, fmt.Errorf("parsing inspect output for %s: %w", name, err)
	}
	if len(records) == 0 {
		return ContainerStatus{}, fmt.Errorf("inspect container %s: %w", name, ErrContainerNotFound)
	}

	rec := records[0]
	status := ContainerStatus{
		ID:      shortID(rec.ID),
		Name:    strings.TrimPrefix(rec.Name, "/"),
		Running: rec.State.Running,
	}
	if rec.State.StartedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, rec.State.StartedAt); err == nil {
			status.StartedAt = ts
		}
	}
	if net, ok := rec.NetworkSettings.Networks[d.network]; ok {
		status.IPAddress = net.IPAddress
	}
	return status, nil
}

// ContainerExists reports whether a container with the name exists.
func (d *DockerEngine) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := d.InspectContainer(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrContainerNotFound) {
		return false, nil
	}
	return false, err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
