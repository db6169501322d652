package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure for the transport layer.
type Kind string

const (
	// KindInternal is the default for failures that carry no better classification.
	KindInternal Kind = "internal"
	// KindUnauthenticated indicates that no verified caller identity was supplied.
	KindUnauthenticated Kind = "unauthenticated"
	// KindUnauthorized indicates that the caller does not own the addressed record.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound indicates that the addressed record or profile does not exist.
	KindNotFound Kind = "not_found"
	// KindValidationFailed indicates malformed caller input.
	KindValidationFailed Kind = "validation_failed"
	// KindUpstreamUnavailable indicates an optional collaborator is disabled or unreachable.
	KindUpstreamUnavailable Kind = "upstream_unavailable"
)

var (
	ErrUnauthenticated     = errors.New("not authenticated")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrValidationFailed    = errors.New("validation failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Error is the coded error returned by every service in this module.
type Error struct {
	kind  Kind
	code  string
	field string
	err   error
}

// New builds an Error for the operation and reason pair, e.g. "links.update" + "not_owner".
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

// Validation builds a ValidationFailed error scoped to an input field.
func Validation(operation, field, message string) *Error {
	return &Error{
		kind:  KindValidationFailed,
		code:  fmt.Sprintf("%s.invalid_%s", operation, field),
		field: field,
		err:   fmt.Errorf("%w: %s", ErrValidationFailed, message),
	}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason code.
func (e *Error) Code() string {
	return e.code
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Field names the offending input for validation failures.
func (e *Error) Field() string {
	return e.field
}

// Message returns the innermost human readable cause.
func (e *Error) Message() string {
	if e.err == nil {
		return e.code
	}
	return e.err.Error()
}

// KindOf extracts the classification of err, falling back to the sentinel errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) && coded.kind != "" && coded.kind != KindInternal {
		return coded.kind
	}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidationFailed):
		return KindValidationFailed
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	}
	return KindInternal
}

// As returns the coded Error wrapped in err, if any.
func As(err error) (*Error, bool) {
	var coded *Error
	if errors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}
