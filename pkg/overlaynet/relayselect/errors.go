package relayselect

import "errors"

// ErrNoCandidates names the case of a selection with no usable relay
// candidate. Select does not return it: with no viable relay it returns a
// ModeDirect Selection with Reason "no_viable_relay".
var ErrNoCandidates = errors.New("relayselect: no relay candidates available")
