package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Sweep errors
	ErrSweepAborted  = errors.New("sweep aborted by infrastructure failure")
	ErrZeroCapacity  = errors.New("no session count passed")
	ErrSweepNotFound = errors.New("sweep not found")
	ErrInvalidProbe  = errors.New("invalid probe range")

	// Scenario errors
	ErrInvalidScenario = errors.New("invalid scenario")
	ErrUnknownOption   = errors.New("unknown scenario option")

	// Process errors
	ErrProcessTimeout = errors.New("process exceeded its deadline")

	// Device errors
	ErrDeviceBind = errors.New("failed to bind device")

	// Settings errors
	ErrSettingNotFound = errors.New("setting not found")
)

// ScenarioError represents a scenario validation error
type ScenarioError struct {
	Field string
	Err   error
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("scenario field '%s': %v", e.Field, e.Err)
}

func (e *ScenarioError) Unwrap() error {
	return e.Err
}

// HostError represents a failure of an operation on one host
type HostError struct {
	Host string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: %v", e.Host, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// ProbeError represents a failure attributed to a single session-count probe
type ProbeError struct {
	Sessions int
	Err      error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %d sessions: %v", e.Sessions, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}
