package controlplane

import "errors"

var (
	// ErrPartyNotFound is returned when an operation references an
	// unknown party_id.
	ErrPartyNotFound = errors.New("controlplane: party not found")

	// ErrPeerNotFound is returned when an operation references an
	// unknown peer_id within a party.
	ErrPeerNotFound = errors.New("controlplane: peer not found")

	// ErrTokenInvalid is returned when a bearer token is unknown,
	// malformed, or expired.
	ErrTokenInvalid = errors.New("controlplane: token invalid or expired")

	// ErrRelayNotFound is returned when a relay_id is unknown to the
	// registry.
	ErrRelayNotFound = errors.New("controlplane: relay not found")
)
