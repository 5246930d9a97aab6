package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyConnected is returned by Connect when the channel is not
	// disconnected.
	ErrAlreadyConnected = errors.New("transport: already connected")
	// ErrNotConnected is returned by Send when there is no open connection.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrReconnectExhausted is returned by Run after the configured number of
	// consecutive failed attempts.
	ErrReconnectExhausted = errors.New("transport: reconnect attempts exhausted")
)

// TransportError wraps a failure of a channel operation.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("transport: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
