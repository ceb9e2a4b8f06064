package api

import (
	"errors"
	"fmt"
)

// ErrNotAuthorized is returned before any network I/O when no usable token
// is held, and for HTTP 401 responses. Callers should trigger
// re-authorization rather than retry.
var ErrNotAuthorized = errors.New("not authorized")

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned HTTP %d", e.Status)
}

// TransportError is a connectivity or timeout failure; no HTTP status was
// received.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
