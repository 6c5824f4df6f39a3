package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEngineUnavailable indicates the container engine daemon cannot be
// reached. The orchestrator reports this distinctly from per-container
// failures.
var ErrEngineUnavailable = errors.New("container engine unavailable")

// ErrContainerNotFound indicates the named container does not exist.
var ErrContainerNotFound = errors.New("container not found")

// classifyCmdError wraps a failed CLI invocation, folding well-known daemon
// and not-found messages onto the sentinel errors.
func classifyCmdError(op string, err error, output []byte) error {
	out := strings.ToLower(string(output))
	switch {
	case strings.Contains(out, "cannot connect to the docker daemon"),
		strings.Contains(out, "is the docker daemon running"),
		strings.Contains(out, "unable to connect to podman"),
		strings.Contains(out, "connection refused"):
		return fmt.Errorf("%s: %w: %s", op, ErrEngineUnavailable, strings.TrimSpace(string(output)))
	case strings.Contains(out, "no such container"),
		strings.Contains(out, "no such object"):
		return fmt.Errorf("%s: %w", op, ErrContainerNotFound)
	default:
		return fmt.Errorf("%s: %w: %s", op, err, strings.TrimSpace(string(output)))
	}
}
