package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so callers branch on kind, never on
// message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInactiveTool
	KindPermissionDenied
	KindRateLimitExceeded
	KindValidation
	KindConfiguration
	KindExecution
)

// String returns a short label for logging and API error payloads.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInactiveTool:
		return "inactive_tool"
	case KindPermissionDenied:
		return "permission_denied"
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindValidation:
		return "validation_error"
	case KindConfiguration:
		return "configuration_error"
	case KindExecution:
		return "execution_failure"
	}
	return "unknown"
}

// Error is the engine's failure value.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds an Error with a formatted message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr builds an Error around a cause, keeping the cause's message.
func WrapErr(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

// KindOf extracts the Kind from an error chain; KindUnknown when the
// chain carries no *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
