package ipam

import "errors"

var (
	// ErrInvalidSubnet is returned when the configured base network is
	// not a valid IPv4 CIDR with a prefix between /16 and /24.
	ErrInvalidSubnet = errors.New("invalid base subnet")

	// ErrPoolExhausted is returned when every /24 subnet within the base
	// network is fully allocated.
	ErrPoolExhausted = errors.New("ip pool exhausted")
)
