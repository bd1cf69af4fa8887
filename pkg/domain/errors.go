package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below matches exactly one of these via errors.Is.
var (
	// ErrValidation is the kind of a rejected parameter assignment.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownProperty is the kind of an inbound patch naming a property the model does not expose.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrRecursionLimit is the kind of a watcher chain that re-entered too deeply.
	ErrRecursionLimit = errors.New("recursion limit exceeded")

	// ErrCallback is the kind of a failed user callback.
	ErrCallback = errors.New("callback failed")

	// ErrTransport is the kind of a failed delivery to the remote peer.
	ErrTransport = errors.New("transport failed")
)

var (
	// ErrUnknownParameter is returned when a parameter name is not declared on an object.
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrSessionNotFound is returned when a session ID cannot be found in the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when an operation requires a session that is no longer usable.
	ErrSessionClosed = errors.New("session closed")

	// ErrSnapshotNotFound is returned when a snapshot key cannot be found in the store.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// ValidationError represents a rejected assignment to a parameter.
type ValidationError struct {
	Object string // Name of the owning object
	Key    string // Parameter name
	Reason string // Human-readable reason for failure
	Value  any    // The value that failed validation
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s.%s: %s", e.Object, e.Key, e.Reason)
	}
	return fmt.Sprintf("%s.%s: %s (got %T)", e.Object, e.Key, e.Reason, e.Value)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UnknownPropertyError is returned when an inbound patch references a property
// that the target model does not expose.
type UnknownPropertyError struct {
	ModelID  string
	Property string
}

func (e *UnknownPropertyError) Error() string {
	return fmt.Sprintf("model %s has no property %q", e.ModelID, e.Property)
}

func (e *UnknownPropertyError) Is(target error) bool { return target == ErrUnknownProperty }

// RecursionLimitError is returned when watcher dispatch re-enters an object
// more than the configured number of times.
type RecursionLimitError struct {
	Object string
	Key    string
	Depth  int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("%s.%s: watcher depth %d exceeds limit", e.Object, e.Key, e.Depth)
}

func (e *RecursionLimitError) Is(target error) bool { return target == ErrRecursionLimit }

// CallbackError wraps a failure (error or panic) raised by a scheduled callback.
type CallbackError struct {
	SessionID string
	ModelID   string
	Name      string
	Err       error
}

func (e *CallbackError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("callback %q (session=%s): %v", e.Name, e.SessionID, e.Err)
	}
	return fmt.Sprintf("callback %q: %v", e.Name, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

func (e *CallbackError) Is(target error) bool { return target == ErrCallback }

// TransportError wraps a failed send to the remote peer of a session.
type TransportError struct {
	SessionID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport (session=%s): %v", e.SessionID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsValidationError reports whether err (or anything it wraps) is a ValidationError.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsRecursionError reports whether err (or anything it wraps) is a RecursionLimitError.
func IsRecursionError(err error) bool {
	return errors.Is(err, ErrRecursionLimit)
}
