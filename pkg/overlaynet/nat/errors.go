package nat

import "errors"

var (
	// ErrAllServersFailed is returned when every configured STUN server
	// failed to respond before the probe deadline.
	ErrAllServersFailed = errors.New("nat: all stun servers failed")

	// ErrMalformedResponse is returned when a STUN server returns a
	// packet that fails header or attribute validation.
	ErrMalformedResponse = errors.New("nat: malformed stun response")

	// ErrHolePunchTimeout is returned when no punch ACK is received from
	// the peer within the hole-punch deadline.
	ErrHolePunchTimeout = errors.New("nat: hole punch timed out")
)
