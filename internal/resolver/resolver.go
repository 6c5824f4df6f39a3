// Package resolver maps an authenticated identity to the backend address the
// proxy dials. It is stateless: instance state lives in the orchestrator.
package resolver

import (
	"context"
	"fmt"

	"tenantgate/internal/config"
	"tenantgate/internal/identity"
	"tenantgate/internal/orchestrator"
	"tenantgate/internal/template"
	"tenantgate/pkg/logging"
)

const resolverSubsystem = "Resolver"

// Provisioner is the orchestrator surface the resolver needs.
type Provisioner interface {
	EnsureReady(ctx context.Context, id identity.UserIdentity) (string, error)
}

// Resolver resolves identities to live backend addresses.
type Resolver struct {
	backend  Provisioner
	nameTmpl *template.Template
	addrTmpl *template.Template
}

// New builds a resolver over a provisioner using the configured name and
// address templates.
func New(backend Provisioner, cfg config.BackendConfig) (*Resolver, error) {
	nameTmpl, err := template.Compile(cfg.NameTemplate)
	if err != nil {
		return nil, fmt.Errorf("name template: %w", err)
	}
	addrTmpl, err := template.Compile(cfg.AddressTemplate)
	if err != nil {
		return nil, fmt.Errorf("address template: %w", err)
	}
	return &Resolver{backend: backend, nameTmpl: nameTmpl, addrTmpl: addrTmpl}, nil
}

// Resolve returns the address of a ready backend for the identity,
// provisioning one if needed. The orchestrator-confirmed live address wins
// over the templated one; a divergence (overlay-assigned IP instead of the
// aliased name) is logged but not an error.
func (r *Resolver) Resolve(ctx context.Context, id identity.UserIdentity) (string, error) {
	addr, err := r.backend.EnsureReady(ctx, id)
	if err != nil {
		return "", err
	}

	nominal := r.addrTmpl.Expand(r.nameTmpl.Expand(orchestrator.InstanceSlug(id)))
	if addr != nominal {
		logging.Debug(resolverSubsystem, "Confirmed address %s for %s diverges from templated %s",
			addr, id.Key(), nominal)
	}
	return addr, nil
}
