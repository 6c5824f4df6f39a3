package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"tenantgate/internal/engine"
)

// ProvisionReason classifies why a provisioning attempt failed.
type ProvisionReason string

const (
	// ReasonEngineUnreachable means the container engine daemon could not
	// be reached at all.
	ReasonEngineUnreachable ProvisionReason = "engine_unreachable"

	// ReasonResourceExhausted means the engine refused to create or start
	// the container.
	ReasonResourceExhausted ProvisionReason = "resource_exhausted"

	// ReasonTimeout means the instance did not become healthy within the
	// provisioning deadline or probe budget.
	ReasonTimeout ProvisionReason = "timeout"
)

// ProvisionError reports a failed provisioning attempt for one identity.
type ProvisionError struct {
	Reason   ProvisionReason
	Identity string
	Err      error
}

func (e *ProvisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning backend for %s failed (%s): %v", e.Identity, e.Reason, e.Err)
	}
	return fmt.Sprintf("provisioning backend for %s failed (%s)", e.Identity, e.Reason)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// provisionError wraps an underlying failure, deriving the reason from the
// error chain.
func provisionError(identityKey string, err error) *ProvisionError {
	reason := ReasonResourceExhausted
	switch {
	case errors.Is(err, engine.ErrEngineUnavailable):
		reason = ReasonEngineUnreachable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errProbeBudget):
		reason = ReasonTimeout
	}
	return &ProvisionError{Reason: reason, Identity: identityKey, Err: err}
}

// errProbeBudget marks exhaustion of the probe attempt budget.
var errProbeBudget = errors.New("health probe attempts exhausted")
