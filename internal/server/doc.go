// Package server implements the HTTP edge of chatedge: client identity
// resolution, rate-limit gating, CORS and origin policy, route dispatch to
// feature handlers, the realtime handshake, and server lifecycle.
package server
