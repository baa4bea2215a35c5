// Package server implements the msger relay: the HTTP and WebSocket server,
// the handshake gatekeeper, the session registry and the per-connection
// broadcast loop.
//
// The implementation is organized into specialized files for configuration,
// handshake, registry, sessions, relay, routing, and HTTP handlers to keep the
// codebase maintainable and testable as the project grows.
package server
