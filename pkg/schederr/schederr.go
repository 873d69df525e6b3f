// Package schederr defines the error kinds the scheduler core raises,
// so callers can distinguish "no more capacity" from "the hypervisor
// misbehaved" without parsing strings.
package schederr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error raised anywhere in the scheduler core.
type Kind int

const (
	// NotEnoughResources is raised per resource name when a deploy
	// cannot be satisfied.
	NotEnoughResources Kind = iota
	// DoesNotExist is raised when a remove targets an unknown VM.
	DoesNotExist
	// UnequalPresence is raised when a VM is present in some resource
	// managers of a pool but not all. Logged, not fatal; reconciled
	// on the next iterate.
	UnequalPresence
	// ConsumerNotAlive is raised when a usage sample targets a VM
	// that has disappeared. Callers must treat it as an ordinary
	// skip, never propagate it as a failure.
	ConsumerNotAlive
	// HypervisorFailure wraps a failure reported verbatim by the
	// hypervisor connector.
	HypervisorFailure
	// TraceFormat is raised for a malformed CSV trace during replay.
	TraceFormat
	// ConfigMissing is raised for a required, absent configuration value.
	ConfigMissing
)

func (k Kind) String() string {
	switch k {
	case NotEnoughResources:
		return "NotEnoughResources"
	case DoesNotExist:
		return "DoesNotExist"
	case UnequalPresence:
		return "UnequalPresence"
	case ConsumerNotAlive:
		return "ConsumerNotAlive"
	case HypervisorFailure:
		return "HypervisorFailure"
	case TraceFormat:
		return "TraceFormat"
	case ConfigMissing:
		return "ConfigMissing"
	default:
		return "Unknown"
	}
}

// Error is a Kind-tagged error. Resource carries the offending
// resource name for NotEnoughResources, and is empty otherwise.
type Error struct {
	Kind     Kind
	Resource string
	cause    error
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Resource, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a Kind-tagged error from a message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, cause: errors.Errorf(format, args...)}
}

// NotEnough builds a NotEnoughResources error naming the resource.
func NotEnough(resource string, format string, args ...interface{}) *Error {
	return &Error{Kind: NotEnoughResources, Resource: resource, cause: errors.Errorf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving its chain.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, msg)}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
