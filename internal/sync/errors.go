package sync

import "errors"

// ErrSessionClosed is returned when a response arrived after logout; the
// result is discarded rather than merged.
var ErrSessionClosed = errors.New("session closed before merge")

// DecodeError is a malformed server payload.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return "decode server payload: " + e.Cause.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// StorageError is a failed local-store transaction; nothing was merged.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string {
	return "local store: " + e.Cause.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}
