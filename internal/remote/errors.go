package remote

import (
	"errors"
	"fmt"
)

// ErrDisabled is returned by the local-only API when the store is switched off.
var ErrDisabled = errors.New("remote store disabled")

// TransportError is a timeout or connection failure. It is retried.
type TransportError struct {
	Err    error
	Action Action
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a non-2xx or malformed response. It is retried.
type ProtocolError struct {
	Err        error
	Action     Action
	StatusCode int
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: protocol: http %d", e.Action, e.StatusCode)
	}
	return fmt.Sprintf("%s: protocol: %v", e.Action, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ApplicationError is a well-formed response with success=false.
// It surfaces to the caller without retrying.
type ApplicationError struct {
	Action  Action
	Message string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var te *TransportError
	var pe *ProtocolError
	return errors.As(err, &te) || errors.As(err, &pe)
}
