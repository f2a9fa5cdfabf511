package server

import "errors"

// Delivery errors reported by Endpoint.Send.
var (
	ErrEndpointClosed = errors.New("endpoint closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Endpoint is the capability the Registry needs from a client connection.
// Implementations own the transport; Send must not block on network I/O.
type Endpoint interface {
	// ID identifies the connection in logs.
	ID() string

	// Send queues one encoded frame for delivery.
	Send(frame []byte) error

	// IsOpen reports whether the transport can still accept frames.
	IsOpen() bool
}

// ConnState is the lifecycle of a connection as seen by the Registry.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
