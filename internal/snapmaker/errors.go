package snapmaker

import (
	"errors"
	"fmt"
)

var ErrNoToken = errors.New("no stored token")

// AuthError means no usable token could be obtained from the device.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("snapmaker auth failed (status %d): %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("snapmaker auth failed: %v", e.Err)
	default:
		return fmt.Sprintf("snapmaker auth failed: status %d", e.StatusCode)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// RequestError is a device response that was not 2xx or could not be
// parsed. Body holds the response text for diagnostics.
type RequestError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s failed: status %d", e.Op, e.StatusCode)
}

func (e *RequestError) Unwrap() error { return e.Err }

// TransportError is a network-level failure talking to the device.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
