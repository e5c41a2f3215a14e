package broadcast

import "errors"

// ErrNotBroadcast names the case of a received datagram whose source
// address is not a broadcast address. The receive loop skips such
// datagrams silently; no function in this package returns this error.
var ErrNotBroadcast = errors.New("broadcast: source is not a broadcast address")
