package relay

import "errors"

// ErrBlocked names the case of a datagram whose source IP is in the block
// set. The relay drops such datagrams silently, without logging; no
// function in this package returns this error.
var ErrBlocked = errors.New("relay: source ip blocked")
