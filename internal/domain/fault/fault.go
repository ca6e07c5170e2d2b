package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of a closed set of variants.
// The HTTP boundary matches this set exhaustively; adding a kind is a
// deliberate API change, not an open-ended hierarchy.
type Kind int

const (
	// KindValidation marks malformed, user-correctable input.
	KindValidation Kind = iota
	// KindConflict marks a state precondition violation.
	KindConflict
	// KindNotFound marks a referenced entity that does not exist.
	KindNotFound
	// KindInternal marks store or transport failures.
	KindInternal
)

// String returns the kind's stable name for logging.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// Error is a classified failure with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error // Underlying cause, never shown to API callers
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a validation fault.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Conflict returns a conflict fault.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// NotFound returns a not-found fault.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Internal returns an internal fault wrapping the underlying cause.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain.
// PRE: err is non-nil
// POST: Returns the fault's kind, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-safe message from an error chain.
// Unclassified errors get a generic message so store internals never leak.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "internal error"
}
