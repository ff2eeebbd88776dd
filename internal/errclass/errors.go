package errclass

import (
	"errors"
	"fmt"
)

// Error is a stable, machine-readable error class. Two Errors match under
// errors.Is when their codes are equal, so callers test against the
// package-level classes regardless of message or wrapped cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return e.Code
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

func (e *Error) Unwrap() error { return e.Err }

// WithMessage returns a new Error with the same Code and the given message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a new Error of the same class carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Code: e.Code, Err: cause}
}

var (
	// TransientIO: a store or network call failed. Retry next cycle, do not
	// advance state.
	TransientIO = &Error{Code: "E_TRANSIENT_IO"}

	// PolicyDenied: the decision logic refused access. Surfaced to the user,
	// never logged as a failure.
	PolicyDenied = &Error{Code: "E_POLICY_DENIED"}

	// InvariantViolation: persisted state broke a model invariant, e.g. two
	// open sessions on one machine. Fatal to the current cycle only.
	InvariantViolation = &Error{Code: "E_INVARIANT_VIOLATION"}

	// ConfigMissing: a setting was absent or malformed and a documented
	// default was used instead.
	ConfigMissing = &Error{Code: "E_CONFIG_MISSING"}
)

// Transient classifies err as TransientIO unless it already carries a class.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return TransientIO.Wrap(err)
}

// IsTransient reports whether err is, or wraps, a TransientIO error.
func IsTransient(err error) bool {
	return errors.Is(err, TransientIO)
}
