package session

import "errors"

// ErrInvalidEntry classifies a malformed append input. It never reaches the
// appending caller; it is only reported through HookPosInvalidEntry.
var ErrInvalidEntry = errors.New("invalid timing entry")
