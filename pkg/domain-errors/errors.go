// Package domainerrors defines the error taxonomy for the PIMS client.
// Every user-visible failure carries exactly one Code; lower layers wrap
// their causes so the full chain stays inspectable with errors.Is/As.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure.
type Code string

const (
	// Transport family: raised by the HTTP session and response classifier.
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeMethodNotSupported Code = "method_not_supported"
	CodeServer             Code = "server_error"
	CodeTransport          Code = "transport_error"

	// Protocol and reconciliation failures.
	CodeTypeReconciliation  Code = "type_reconciliation"
	CodeResponseCardinality Code = "response_cardinality"
	CodeIdentityNotFound    Code = "identity_not_found"

	// Keyfile session failures.
	CodeConflict         Code = "conflict"
	CodeInvalidTemplate  Code = "invalid_template"
	CodeNoConnection     Code = "no_connection"
	CodeKeyfileOperation Code = "keyfile_operation"

	// Everything else.
	CodeAuth         Code = "auth"
	CodeInvalidInput Code = "invalid_input"
	CodeInternal     Code = "internal"
)

// Error is the single error type used across the client.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is makes two Errors match when their codes match, so callers can write
// errors.Is(err, domainerrors.New(code, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message while preserving the cause
// chain. Wrapping nil returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
// Outer wrappers do not mask inner codes.
func HasCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if errors.As(err, &e) {
			if e.Code == code {
				return true
			}
			err = e.cause
			continue
		}
		return false
	}
	return false
}

// CodeOf returns the code of the outermost Error in the chain, or
// CodeInternal when err carries no code at all.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
