package request

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no request exists for the identifier.
	ErrNotFound = errors.New("request: not found")
	// ErrForbidden signals the supplied role facts do not permit the transition.
	ErrForbidden = errors.New("request: actor not permitted")
	// ErrVersionConflict signals a stale write-back; callers re-fetch and retry.
	ErrVersionConflict = errors.New("request: version conflict")
)

// GuardViolation reports a transition whose precondition failed. The engine
// never mutates state on a guard violation.
type GuardViolation struct {
	Op     string
	Reason string
}

func (e *GuardViolation) Error() string {
	return fmt.Sprintf("request: %s: %s", e.Op, e.Reason)
}

func guardf(op, format string, args ...any) error {
	return &GuardViolation{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsGuardViolation reports whether err is (or wraps) a GuardViolation.
func IsGuardViolation(err error) bool {
	var gv *GuardViolation
	return errors.As(err, &gv)
}

// ValidationError reports a malformed field, detected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request: invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
