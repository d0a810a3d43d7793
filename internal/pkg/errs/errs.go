package errs

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for billing and synchronization operations. Callers
// classify with errors.Is; wrap with Validationf and friends to attach detail.
var (
	// ErrValidation marks bad input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks an optimistic-concurrency loss. The caller re-reads
	// and retries.
	ErrConflict = errors.New("conflict: stored version changed")
	// ErrTransientUpstream marks a network or timeout failure talking to the
	// processor or the repository. Retried with the configured policy.
	ErrTransientUpstream = errors.New("transient upstream error")
	// ErrUpstreamUnavailable marks exhausted retries against the processor.
	// Surfaced to the caller or administrator.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidTransition marks a lifecycle transition outside the allowed
	// table. Not retried; requires operator intervention.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrNotFound marks a missing entity. Not retried.
	ErrNotFound = errors.New("not found")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransientUpstream, fmt.Sprintf(format, args...))
}

func InvalidTransitionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether the webhook pipeline retry policy applies.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransientUpstream)
}

// Kind returns the stable error kind string used in API failure payloads.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransientUpstream):
		return "transient_upstream"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
