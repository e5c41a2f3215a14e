package connection

import "errors"

var (
	// ErrPeerConnectionFailed wraps any failure that can occur while
	// establishing a connection: peer not found, strategy determination
	// failure, or IP pool exhaustion.
	ErrPeerConnectionFailed = errors.New("connection: failed to connect to peer")

	// ErrConnectionNotFound is returned when an operation references a
	// peer with no active connection record.
	ErrConnectionNotFound = errors.New("connection: no active connection for peer")
)
