// Package server implements the relay: a Registry of live connections that
// fans chat messages and join/leave notices out to every member, the
// WebSocket transport that feeds it, and the HTTP surface around them.
//
// The implementation is organized into specialized files for the registry,
// the wire protocol, clients, routing, and HTTP handlers. The registry only
// knows connections through the Endpoint interface, so it can be exercised
// without a network.
package server
