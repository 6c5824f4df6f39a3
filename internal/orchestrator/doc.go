// Package orchestrator manages the lifecycle of per-user backend containers.
//
// Each authenticated user gets exactly one backend instance, tracked through
// the states provisioning, ready, unhealthy and stopped. The orchestrator is
// the only writer of that state: the proxy asks for a ready address via
// EnsureReady and reports use via Touch, but never mutates instances itself.
//
// Concurrent first requests for the same user collapse into a single
// provisioning run (singleflight per identity key), while requests for
// different users never wait on each other. A provisioning run creates or
// restarts the container on the configured engine, then polls a health probe
// with exponential backoff until the instance answers or the attempt budget
// or provisioning deadline runs out.
//
// A background loop evicts instances that have been idle longer than the
// configured timeout; their containers are stopped but their state is kept so
// the next request re-provisions under the same deterministic name.
package orchestrator
