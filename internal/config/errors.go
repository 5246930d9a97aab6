package config

import (
	"errors"
	"fmt"
)

var (
	// ErrDefaultLayerMissing indicates the mandatory default layer is absent.
	ErrDefaultLayerMissing = errors.New("default configuration not found")
	// ErrInvalidConfig indicates a tree failed schema validation.
	ErrInvalidConfig = errors.New("configuration is invalid")
)

// ConfigurationError reports a missing or invalid configuration file or field.
// It is fatal during startup.
type ConfigurationError struct {
	Path string // file or dotted key path
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
