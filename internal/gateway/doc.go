// Package gateway is the HTTP surface of tenantgate: the login endpoints,
// the session cookie handling, and the authenticating reverse proxy that
// forwards every other request to the caller's own backend instance.
//
// The proxy trusts nothing from the client: the session cookie and any
// inbound identity headers are stripped before the request crosses to the
// backend, which receives only the gateway-asserted X-Tenantgate-User
// header. Responses stream without buffering, and protocol upgrades
// (WebSockets) pass through untouched.
package gateway
