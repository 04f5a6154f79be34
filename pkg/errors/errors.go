// Package errors provides kind-tagged errors and their RFC 7807 Problem Details rendering.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Kind names. Callers branch on these through Is, never on message text.
const (
	KindInputInvalid     = "InputInvalid"
	KindConfigInvalid    = "ConfigInvalid"
	KindSubmissionFailed = "SubmissionFailed"
	KindNoEventsFound    = "NoEventsFound"
	KindNotFound         = "NotFound"
	KindConflict         = "Conflict"
	KindStaleRun         = "StaleRun"
	KindUnknown          = "Unknown"
)

var (
	// InputInvalid marks user input that could not be parsed or encoded.
	InputInvalid *Error = NewWithKind(KindInputInvalid)
	// ConfigInvalid marks a missing or malformed model reference, package id or setting.
	ConfigInvalid *Error = NewWithKind(KindConfigInvalid)
	// SubmissionFailed marks a wallet rejection, network failure or ledger execution failure.
	SubmissionFailed *Error = NewWithKind(KindSubmissionFailed)
	// NoEventsFound marks a successful receipt that carried no recognizable computation events.
	NoEventsFound *Error = NewWithKind(KindNoEventsFound)
	NotFound      *Error = NewWithKind(KindNotFound)
	Conflict      *Error = NewWithKind(KindConflict)
	// StaleRun marks a receipt that arrived for a run superseded by a newer one.
	StaleRun *Error = NewWithKind(KindStaleRun)
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

func NewFieldError(kind, field, reason string) FieldError {
	return FieldError{Kind: kind, Field: field, Message: reason}
}

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindUnknown, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Wrap returns an error of unknown kind around err.
func Wrap(err error) *Error {
	return &Error{Kind: KindUnknown, cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

// Reason returns a copy of the error with kind set to given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause.
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	err := *e
	err.trace = stack[:n]
	return &err
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	newError := *e
	newError.Fields = append(append([]FieldError(nil), e.Fields...), NewFieldError(kind, field, message))
	return &newError
}

// Is implements the needed interface for errors.Is
// It checks kind for equality
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf returns the human readable message of the first *Error in err's chain,
// falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
