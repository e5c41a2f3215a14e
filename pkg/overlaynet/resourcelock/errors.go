package resourcelock

import "errors"

// ErrOperationAborted is wrapped by the error ResolvePair returns for an
// Abort decision, in which neither operation runs. Under a Prioritize
// decision the lower-priority operation is not run and no error reports it.
var ErrOperationAborted = errors.New("resourcelock: operation aborted")
