// Package apperror classifies errors by the taxonomy the daemon uses to
// decide what a failure should look like to a client versus to an operator.
package apperror

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories the daemon distinguishes. The proxy
// and API layers switch on Kind to decide status codes and whether a
// failure is allowed to break in-flight client traffic.
type Kind int

const (
	// KindUnknown is the zero value — treat like an upstream error.
	KindUnknown Kind = iota
	// KindConfiguration means something is wrong with how the process was
	// started (bad port, unknown upstream). Fatal at startup.
	KindConfiguration
	// KindClient means the inbound request itself was malformed. The
	// proxy forwards it anyway and lets upstream return its own verdict.
	KindClient
	// KindUpstream means the far side (DNS, connect, TLS, 5xx) failed.
	KindUpstream
	// KindCapture means parsing/normalizing a request or replaying a
	// state line failed. Logged, never raised — capture is privileged
	// and must not affect user traffic.
	KindCapture
	// KindStore means a persistence operation (disk full, permission)
	// failed. Logged, retried on the next mutation.
	KindStore
	// KindValidation means an ingest-boundary request failed validation.
	// Returned as 400 with no partial application.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindClient:
		return "client"
	case KindUpstream:
		return "upstream"
	case KindCapture:
		return "capture"
	case KindStore:
		return "store"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// appError wraps an error with a Kind so callers further up the stack can
// recover the classification with errors.As without parsing messages.
type appError struct {
	kind Kind
	err  error
}

func (e *appError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *appError) Unwrap() error { return e.err }

// Wrap attaches kind to err. Wrapping a nil error returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &appError{kind: kind, err: err}
}

// KindOf extracts the Kind attached by Wrap, or KindUnknown if err (or
// anything in its chain) was never wrapped by this package.
func KindOf(err error) Kind {
	var ae *appError
	if errors.As(err, &ae) {
		return ae.kind
	}
	return KindUnknown
}
