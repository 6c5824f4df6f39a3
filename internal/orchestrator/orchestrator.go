package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tenantgate/internal/config"
	"tenantgate/internal/engine"
	"tenantgate/internal/identity"
	"tenantgate/internal/template"
	"tenantgate/pkg/logging"
)

const orchSubsystem = "Orchestrator"

// minEvictionInterval is the floor for the idle-eviction scan ticker.
const minEvictionInterval = 15 * time.Second

// stopGrace bounds container stops issued outside a request context.
const stopGrace = 30 * time.Second

// Orchestrator provisions and tracks one backend container per user. It is
// the sole writer of instance state; the proxy only asks for addresses and
// records use.
type Orchestrator struct {
	engine   engine.ContainerEngine
	cfg      config.BackendConfig
	nameTmpl *template.Template
	addrTmpl *template.Template
	prober   Prober

	mu        sync.RWMutex
	instances map[string]*BackendInstance

	// flight collapses concurrent provisioning for the same identity key.
	// Different users never share a flight.
	flight singleflight.Group

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

// New creates an orchestrator on top of a container engine. The name and
// address templates come pre-validated from config, but are compiled again
// here so the orchestrator stands on its own.
func New(eng engine.ContainerEngine, cfg config.BackendConfig) (*Orchestrator, error) {
	nameTmpl, err := template.Compile(cfg.NameTemplate)
	if err != nil {
		return nil, fmt.Errorf("name template: %w", err)
	}
	addrTmpl, err := template.Compile(cfg.AddressTemplate)
	if err != nil {
		return nil, fmt.Errorf("address template: %w", err)
	}

	return &Orchestrator{
		engine:    eng,
		cfg:       cfg,
		nameTmpl:  nameTmpl,
		addrTmpl:  addrTmpl,
		prober:    newProber(cfg.ProbePath),
		instances: make(map[string]*BackendInstance),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}, nil
}

// Start launches the idle-eviction loop.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go o.evictionLoop()
	logging.Info(orchSubsystem, "Started (idle timeout %s, eviction scan every %s)",
		o.cfg.IdleTimeout.Std(), o.evictionInterval())
}

// Stop halts the eviction loop. Running containers are left alone; a
// restarted gateway reconciles them by name on the next request.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
	})
	o.wg.Wait()
}

// EnsureReady returns the address of a healthy backend instance for the
// identity, provisioning one if needed. Concurrent calls for the same user
// collapse into a single provisioning run; calls for different users
// proceed independently.
func (o *Orchestrator) EnsureReady(ctx context.Context, id identity.UserIdentity) (string, error) {
	key := id.Key()

	if addr, ok := o.readyAddress(key); ok {
		return addr, nil
	}

	v, err, _ := o.flight.Do(key, func() (interface{}, error) {
		return o.provision(ctx, id)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Touch records that the identity's instance just served a request. Called
// by the proxy on every successfully forwarded request.
func (o *Orchestrator) Touch(id identity.UserIdentity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if inst, ok := o.instances[id.Key()]; ok {
		inst.LastUsed = o.now()
	}
}

// MarkUnhealthy flags the identity's instance after a connect failure so the
// next EnsureReady re-probes it instead of trusting the cached address.
func (o *Orchestrator) MarkUnhealthy(id identity.UserIdentity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.instances[id.Key()]
	if !ok || inst.State != StateReady {
		return
	}
	inst.State = StateUnhealthy
	logging.Warn(orchSubsystem, "Backend for %s marked unhealthy", id.Key())
}

// Release stops the identity's container. Instance state is retained as
// Stopped so a later request re-provisions under the same name.
func (o *Orchestrator) Release(ctx context.Context, id identity.UserIdentity) error {
	key := id.Key()

	o.mu.Lock()
	inst, ok := o.instances[key]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	name := inst.Name
	inst.State = StateStopped
	inst.Address = ""
	o.mu.Unlock()

	logging.Info(orchSubsystem, "Releasing backend for %s (container %s)", key, name)
	if err := o.engine.StopContainer(ctx, name); err != nil && !errors.Is(err, engine.ErrContainerNotFound) {
		return fmt.Errorf("releasing backend for %s: %w", key, err)
	}
	return nil
}

// readyAddress is the lock-only fast path: no engine calls, no flight.
func (o *Orchestrator) readyAddress(key string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	inst, ok := o.instances[key]
	if !ok || inst.State != StateReady {
		return "", false
	}
	return inst.Address, true
}

// provision runs inside the identity's flight. It owns the instance's state
// transitions for the duration of the run.
func (o *Orchestrator) provision(ctx context.Context, id identity.UserIdentity) (string, error) {
	key := id.Key()

	// A previous flight may have finished between the caller's fast-path
	// check and this one.
	if addr, ok := o.readyAddress(key); ok {
		return addr, nil
	}

	// The flight serves every collapsed caller, so it must not die with
	// the one that started it. Only the provisioning deadline bounds it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ProvisionTimeout.Std())
	defer cancel()

	name := o.nameTmpl.Expand(InstanceSlug(id))
	prev := o.beginProvisioning(id, name)

	addr, err := o.runProvision(ctx, key, name, prev)
	if err != nil {
		o.failProvision(key)
		logging.Error(orchSubsystem, err, "Provisioning backend for %s failed", key)
		return "", provisionError(key, err)
	}

	o.markReady(key, addr)
	logging.Info(orchSubsystem, "Backend for %s ready at %s", key, addr)
	return addr, nil
}

// runProvision performs the engine work for one provisioning run and returns
// the confirmed address.
func (o *Orchestrator) runProvision(ctx context.Context, key, name string, prev InstanceState) (string, error) {
	nominal := o.addrTmpl.Expand(name)

	if prev == StateUnhealthy {
		// Re-probe once; a transient failure needs no restart.
		if err := o.prober.Probe(ctx, nominal); err == nil {
			return o.confirmAddress(ctx, name, nominal), nil
		}
		logging.Info(orchSubsystem, "Restarting unhealthy backend %s", name)
		if err := o.engine.StopContainer(ctx, name); err != nil && !errors.Is(err, engine.ErrContainerNotFound) {
			return "", err
		}
		err := o.engine.StartContainer(ctx, name)
		if err == nil {
			addr := o.confirmAddress(ctx, name, nominal)
			return addr, o.awaitHealthy(ctx, addr)
		}
		if !errors.Is(err, engine.ErrContainerNotFound) {
			return "", err
		}
		// The container vanished underneath us; fall through to a full
		// cycle.
	}

	if _, err := o.engine.CreateContainer(ctx, engine.ContainerConfig{
		Name:     name,
		Image:    o.cfg.Image,
		Hostname: name,
		Env:      o.backendEnv(key),
		Labels: map[string]string{
			"tenantgate.managed": "true",
			"tenantgate.user":    key,
		},
	}); err != nil {
		return "", err
	}
	if err := o.engine.StartContainer(ctx, name); err != nil {
		return "", err
	}

	addr := o.confirmAddress(ctx, name, nominal)
	return addr, o.awaitHealthy(ctx, addr)
}

// confirmAddress prefers the overlay-assigned IP from inspect over the
// templated name. The templated port is kept either way.
func (o *Orchestrator) confirmAddress(ctx context.Context, name, nominal string) string {
	status, err := o.engine.InspectContainer(ctx, name)
	if err != nil || status.IPAddress == "" {
		return nominal
	}
	_, port, err := net.SplitHostPort(nominal)
	if err != nil {
		return nominal
	}
	return net.JoinHostPort(status.IPAddress, port)
}

// awaitHealthy polls the probe with exponential backoff until it passes, the
// attempt budget runs out, or the provisioning deadline hits.
func (o *Orchestrator) awaitHealthy(ctx context.Context, address string) error {
	interval := o.cfg.ProbeInterval.Std()
	var lastErr error

	for attempt := 1; attempt <= o.cfg.ProbeAttempts; attempt++ {
		if err := o.prober.Probe(ctx, address); err == nil {
			return nil
		} else {
			lastErr = err
			logging.Debug(orchSubsystem, "Probe %d/%d for %s failed: %v",
				attempt, o.cfg.ProbeAttempts, address, err)
		}

		// No backoff sleep after the final attempt; the caller gets
		// the error immediately.
		if attempt == o.cfg.ProbeAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval *= 2
		if interval > maxProbeBackoff {
			interval = maxProbeBackoff
		}
	}

	return fmt.Errorf("%w (%d attempts): %v", errProbeBudget, o.cfg.ProbeAttempts, lastErr)
}

// backendEnv merges the configured extra env with the per-instance vars the
// backend image expects.
func (o *Orchestrator) backendEnv(key string) map[string]string {
	env := make(map[string]string, len(o.cfg.Env)+1)
	for k, v := range o.cfg.Env {
		env[k] = v
	}
	env["TENANTGATE_USER"] = key
	return env
}

func (o *Orchestrator) beginProvisioning(id identity.UserIdentity, name string) InstanceState {
	o.mu.Lock()
	defer o.mu.Unlock()

	inst, ok := o.instances[id.Key()]
	if !ok {
		inst = &BackendInstance{Identity: id}
		o.instances[id.Key()] = inst
	}
	prev := inst.State
	inst.Name = name
	inst.State = StateProvisioning
	inst.Address = ""
	return prev
}

func (o *Orchestrator) markReady(key, address string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	inst, ok := o.instances[key]
	if !ok {
		return
	}
	now := o.now()
	inst.State = StateReady
	inst.Address = address
	inst.LastProbe = now
	inst.LastUsed = now
}

// failProvision moves the instance out of Provisioning so the next request
// retries from scratch instead of finding a stuck entry.
func (o *Orchestrator) failProvision(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if inst, ok := o.instances[key]; ok {
		inst.State = StateStopped
		inst.Address = ""
	}
}

func (o *Orchestrator) evictionInterval() time.Duration {
	interval := o.cfg.IdleTimeout.Std() / 4
	if interval < minEvictionInterval {
		interval = minEvictionInterval
	}
	return interval
}

func (o *Orchestrator) evictionLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.evictionInterval())
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.evictIdle()
		}
	}
}

// evictIdle stops containers that have not served a request within the idle
// timeout. State flips to Stopped under the lock first so the fast path
// stops handing out the address before the container goes down.
func (o *Orchestrator) evictIdle() {
	cutoff := o.now().Add(-o.cfg.IdleTimeout.Std())

	var victims []string
	o.mu.Lock()
	for key, inst := range o.instances {
		if inst.State != StateReady || !inst.LastUsed.Before(cutoff) {
			continue
		}
		inst.State = StateStopped
		inst.Address = ""
		victims = append(victims, inst.Name)
		logging.Info(orchSubsystem, "Evicting idle backend for %s (container %s, last used %s)",
			key, inst.Name, inst.LastUsed.Format(time.RFC3339))
	}
	o.mu.Unlock()

	for _, name := range victims {
		ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
		if err := o.engine.StopContainer(ctx, name); err != nil && !errors.Is(err, engine.ErrContainerNotFound) {
			logging.Error(orchSubsystem, err, "Stopping idle container %s failed", name)
		}
		cancel()
	}
}
