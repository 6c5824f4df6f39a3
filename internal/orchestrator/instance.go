package orchestrator

import (
	"strings"
	"time"

	"tenantgate/internal/identity"
)

// InstanceState describes the lifecycle state of a backend instance.
type InstanceState string

const (
	// StateProvisioning means a flight is creating or restarting the
	// container and waiting for it to become healthy.
	StateProvisioning InstanceState = "provisioning"

	// StateReady means the instance answered its health probe and can
	// receive traffic.
	StateReady InstanceState = "ready"

	// StateUnhealthy means the instance stopped answering probes but its
	// container has not been torn down yet.
	StateUnhealthy InstanceState = "unhealthy"

	// StateStopped means the container is stopped. State is retained so a
	// later request re-provisions under the same name.
	StateStopped InstanceState = "stopped"
)

// BackendInstance tracks one user's backend container. The orchestrator is
// the sole writer; all fields are guarded by the orchestrator's lock.
type BackendInstance struct {
	Identity  identity.UserIdentity
	Name      string // Container name, deterministic per user
	Address   string // host:port the proxy dials, set when Ready
	State     InstanceState
	LastProbe time.Time
	LastUsed  time.Time
}

// InstanceSlug derives the container-name fragment for an identity. The
// identity key ("subject.provider") is already stable; characters outside
// the container name alphabet are folded to '-'.
func InstanceSlug(id identity.UserIdentity) string {
	return sanitizeSlug(id.Key())
}

func sanitizeSlug(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToLower(key) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
