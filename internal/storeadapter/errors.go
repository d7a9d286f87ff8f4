package storeadapter

import "errors"

// Sentinel errors returned by Adapter methods.
var (
	ErrStorageUnavailable = errors.New("storage: unavailable")
	ErrStorageConflict    = errors.New("storage: conflict")
	ErrStorageTimeout     = errors.New("storage: timeout")
)
