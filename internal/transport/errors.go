package transport

import "errors"

var (
	// ErrServiceNotFound indicates the route table has no entry for a service.
	ErrServiceNotFound = errors.New("transport: service not defined in the routing table")

	// ErrUnsupportedProtocol indicates the upstream negotiated an unknown
	// websocket subprotocol.
	ErrUnsupportedProtocol = errors.New("transport: unsupported websocket subprotocol")

	// ErrConnectionClosed indicates the upstream websocket closed before the
	// operation completed.
	ErrConnectionClosed = errors.New("transport: connection closed")
)
