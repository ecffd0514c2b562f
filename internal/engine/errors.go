package engine

import (
	"context"
	"errors"
	"fmt"
)

// Failure classes of a detection run. Every error returned by Engine.Run and
// by the job orchestrator wraps exactly one of them.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrResourceLimit = errors.New("resource limit exceeded")
	ErrDependency    = errors.New("dependency failure")
	ErrCancelled     = errors.New("job cancelled")
)

// ErrNoElements is the cause of the dependency failure for a run with no
// input elements.
var ErrNoElements = errors.New("no elements found")

// Failure kinds recorded on failed jobs.
const (
	KindConfiguration = "configuration"
	KindResourceLimit = "resource_limit"
	KindDependency    = "dependency"
	KindCancelled     = "cancelled"
	KindInterrupted   = "interrupted"
	KindInternal      = "internal"
)

// Kind maps an error to the failure kind stored on the job.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrResourceLimit):
		return KindResourceLimit
	case errors.Is(err, ErrDependency), errors.Is(err, context.DeadlineExceeded):
		return KindDependency
	default:
		return KindInternal
	}
}

// Dependency wraps a collaborator failure. Both ErrDependency and the cause
// stay reachable with errors.Is.
func Dependency(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDependency, op, err)
}

func configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func cancelled(phase Phase, cause error) error {
	return fmt.Errorf("%w during %s: %w", ErrCancelled, phase, cause)
}
