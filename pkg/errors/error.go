// Package errors provides the coded error type used across commshub.
//
// Errors fall into three categories: ARG for guard violations raised on bad
// input, RES for pluggable components that could not be constructed or
// returned an unexpected shape, and COM for communications failures the
// orchestrator cannot turn into a per-channel result.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Code represents an error code for categorization.
type Code string

// Error categories.
const (
	ArgumentCategory       = "ARG"
	ResolutionCategory     = "RES"
	CommunicationsCategory = "COM"
)

// Argument error codes.
const (
	ErrInvalidArgument Code = "ARG001" // Required argument missing or malformed
	ErrEmptyArgument   Code = "ARG002" // Required collection or string is empty
)

// Resolution error codes.
const (
	ErrResolverConstruction Code = "RES001" // Registered component could not be constructed
	ErrResolverFailed       Code = "RES002" // Registered component returned an error
)

// Communications error codes.
const (
	ErrCommunications      Code = "COM001" // Generic communications failure
	ErrMissingContent      Code = "COM002" // Required template produced no content
	ErrProviderNotResolved Code = "COM003" // No channel provider available for a channel
	ErrDuplicateProvider   Code = "COM004" // Provider id registered twice for a communication type
)

// Error is a coded error with optional details, context and cause.
type Error struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Details   string         `json:"details,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Cause     error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if stderrors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Category returns the three letter category prefix of the code.
func (e *Error) Category() string {
	if len(e.Code) < 3 {
		return ""
	}
	return string(e.Code[:3])
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a coded Error.
func Wrap(cause error, code Code, message string) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// Argument builds an ARG error naming the offending argument.
func Argument(name, message string) *Error {
	return New(ErrInvalidArgument, message).WithContext("argument", name)
}

// Empty builds an ARG error for an empty required argument.
func Empty(name string) *Error {
	return Newf(ErrEmptyArgument, "%s must not be empty", name).WithContext("argument", name)
}

// Resolution builds a RES error for a component that could not be constructed.
func Resolution(component string, cause error) *Error {
	return Wrap(cause, ErrResolverConstruction, "unable to construct "+component).
		WithContext("component", component)
}

// Communications builds a COM error.
func Communications(code Code, message string) *Error {
	return New(code, message)
}

// IsArgument reports whether err carries an ARG code.
func IsArgument(err error) bool {
	return hasCategory(err, ArgumentCategory)
}

// IsResolution reports whether err carries a RES code.
func IsResolution(err error) bool {
	return hasCategory(err, ResolutionCategory)
}

// IsCommunications reports whether err carries a COM code.
func IsCommunications(err error) bool {
	return hasCategory(err, CommunicationsCategory)
}

// HasCode reports whether err, or anything it wraps, carries code.
func HasCode(err error, code Code) bool {
	var e *Error
	for err != nil {
		if stderrors.As(err, &e) {
			if e.Code == code {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}

func hasCategory(err error, category string) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category() == category
	}
	return false
}
