package types

import (
	"errors"
	"fmt"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// ErrorKind classifies failures crossing component boundaries.
type ErrorKind string

const (
	KindStoreUnavailable  ErrorKind = "StoreUnavailable"
	KindEndpointNotFound  ErrorKind = "EndpointNotFound"
	KindEndpointNotReady  ErrorKind = "EndpointNotReady"
	KindUnknownVariant    ErrorKind = "UnknownVariant"
	KindMalformedPayload  ErrorKind = "MalformedPayload"
	KindInvalidIndexRange ErrorKind = "InvalidIndexRange"
	KindEmptyRequest      ErrorKind = "EmptyRequest"
	KindBackendError      ErrorKind = "BackendError"
	KindTimeout           ErrorKind = "Timeout"
)

// Retryable reports whether a caller may retry without an external state change.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindStoreUnavailable, KindBackendError, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is the typed error returned by registry, codec and dispatcher.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable}
	ErrEndpointNotFound  = &Error{Kind: KindEndpointNotFound}
	ErrEndpointNotReady  = &Error{Kind: KindEndpointNotReady}
	ErrUnknownVariant    = &Error{Kind: KindUnknownVariant}
	ErrMalformedPayload  = &Error{Kind: KindMalformedPayload}
	ErrInvalidIndexRange = &Error{Kind: KindInvalidIndexRange}
	ErrEmptyRequest      = &Error{Kind: KindEmptyRequest}
	ErrBackend           = &Error{Kind: KindBackendError}
	ErrTimeout           = &Error{Kind: KindTimeout}
)

// NewError wraps err with a kind and the failing operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a typed error from a format string.
func Errorf(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}
