// internal/gcode/errors.go
package gcode

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the execution core.
var (
	// ErrCancelled indicates cooperative cancellation. It is re-raised
	// after result finalization so the caller still observes it.
	ErrCancelled = errors.New("code has been cancelled")

	// ErrNotSupported indicates a code that is intentionally unhandled.
	// The handlers report such codes (M998) as an Error message result
	// rather than returning this error.
	ErrNotSupported = errors.New("code is not supported")

	// ErrInvariant indicates an internal state machine violation.
	ErrInvariant = errors.New("execution invariant violated")
)

// ParseError reports a malformed code. Construction fails; the code
// never enters the scheduler.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Reason
}

func parseErrorf(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}
