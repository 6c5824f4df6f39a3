// Package identity verifies who a user is. It drives the OAuth code flow
// against the configured providers (GitHub, Google), guards the callback
// with single-use anti-forgery states, and reduces the provider's claims to
// a stable opaque user key of the form "subject.provider".
package identity
