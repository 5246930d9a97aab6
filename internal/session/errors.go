package session

import (
	"errors"
	"fmt"
)

var (
	ErrFeatureDisabled       = errors.New("session: feature disabled")
	ErrEndpointNotConfigured = errors.New("session: endpoint not configured")
	ErrCommandTimeout        = errors.New("session: command timed out")
	ErrFileNotFound          = errors.New("session: file not found")
	ErrFileTooLarge          = errors.New("session: file too large")
	ErrNoCredential          = errors.New("session: no credential resolved")
)

// RequestError describes a failed call to the remote service. StatusCode is
// zero when no response was received.
type RequestError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("session: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

func featureDisabled(feature string) error {
	return fmt.Errorf("%w: %s", ErrFeatureDisabled, feature)
}

func endpointMissing(name string) error {
	return fmt.Errorf("%w: %s", ErrEndpointNotConfigured, name)
}
