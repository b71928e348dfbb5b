package model

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfiguration reports a missing or invalid configuration value. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotSupported reports request input the pipeline cannot express, e.g. an unknown method
	ErrNotSupported = errors.New("not supported")
	// ErrConversion reports a failure building the local request or the relay response
	ErrConversion = errors.New("conversion error")
	// ErrContractViolation reports a plugin returning nil instead of a message
	ErrContractViolation = errors.New("plugin contract violation")
	// ErrNilRequest is returned when HandleRelayRequest is called without a request
	ErrNilRequest = errors.New("relayed request is nil")
	// ErrNotFound reports an unknown plugin, setting or captured request
	ErrNotFound = errors.New("not found")
)

// PluginPhase names the hook a plugin was running in
type PluginPhase string

const (
	// PhasePreProcess is the request hook, run before the local call
	PhasePreProcess PluginPhase = "pre-process"
	// PhasePostProcess is the response hook, run after the local call
	PhasePostProcess PluginPhase = "post-process"
)

// PluginError identifies the plugin and phase that aborted a request
type PluginError struct {
	Plugin string
	Phase  PluginPhase
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s failed in %s: %v", e.Plugin, e.Phase, e.Err)
}

// Unwrap returns the underlying plugin failure
func (e *PluginError) Unwrap() error {
	return e.Err
}

type conversionError struct {
	err error
}

// ConversionError marks err as a conversion failure while keeping it inspectable
// with errors.Is / errors.As.
func ConversionError(err error) error {
	if err == nil {
		return nil
	}
	return &conversionError{err: err}
}

func (e *conversionError) Error() string {
	return ErrConversion.Error() + ": " + e.err.Error()
}

func (e *conversionError) Unwrap() []error {
	return []error{ErrConversion, e.err}
}
